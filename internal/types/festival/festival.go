package festival

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Festival is a read-only registry entry for one festival edition.
type Festival struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Location  string `json:"location"`
}

// Producer is a brewery/cidery with its drinks embedded, as delivered by
// the upstream registry feed.
type Producer struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Location string  `json:"location,omitempty"`
	Bar      string  `json:"bar,omitempty"`
	Products []Drink `json:"products"`
}

// Drink is one product. Drink ids are unique within a festival only; the
// same real-world drink may carry a different id in another edition.
type Drink struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Style    string `json:"style,omitempty"`
	Category string `json:"category,omitempty"`
	ABV      ABV    `json:"abv"`
}

// ABV tolerates the upstream feed's loose typing: the field arrives as a
// number, a numeric string (with or without a trailing %), or null.
// Anything unparseable decodes to 0.
type ABV float64

func (a *ABV) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*a = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			*a = 0
			return nil
		}
		str = strings.TrimSuffix(strings.TrimSpace(str), "%")
		v, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
		if err != nil {
			*a = 0
			return nil
		}
		*a = ABV(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		*a = 0
		return nil
	}
	*a = ABV(v)
	return nil
}

func (a ABV) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(a))
}
