// Package catalog wraps vehicle records supplied by the content backend.
//
// A car is kept as an opaque structpb.Struct so display fields the checkout
// never reads survive a round trip through booking state untouched. Only
// the pricing fields have typed accessors.
package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// NoProtectionPlan is the plan name the UI sends when no add-on was chosen.
const NoProtectionPlan = "none"

// ProtectionPlan is one insurance add-on offered for a car.
type ProtectionPlan struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description,omitempty"`
	IsIncluded  bool    `json:"isIncluded,omitempty"`
	Deductible  float64 `json:"deductible,omitempty"`
}

// Car is a vehicle record.
type Car struct {
	fields *structpb.Struct
}

// NewCar converts a decoded JSON object into a Car.
func NewCar(m map[string]interface{}) (*Car, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("catalog: invalid car record: %w", err)
	}
	return &Car{fields: s}, nil
}

// ParseCar decodes a JSON car record.
func ParseCar(data []byte) (*Car, error) {
	c := &Car{}
	if err := c.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return c, nil
}

// MarshalJSON implements json.Marshaler.
func (c *Car) MarshalJSON() ([]byte, error) {
	if c == nil || c.fields == nil {
		return []byte("null"), nil
	}
	return protojson.Marshal(c.fields)
}

// UnmarshalJSON implements json.Unmarshaler. The record must be a JSON object.
func (c *Car) UnmarshalJSON(data []byte) error {
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return fmt.Errorf("catalog: invalid car record: %w", err)
	}
	c.fields = s
	return nil
}

func (c *Car) field(name string) *structpb.Value {
	if c == nil || c.fields == nil {
		return nil
	}
	return c.fields.GetFields()[name]
}

func (c *Car) str(name string) string {
	return c.field(name).GetStringValue()
}

// number accepts JSON numbers and numeric strings.
func (c *Car) number(name string) float64 {
	return numberValue(c.field(name))
}

func numberValue(v *structpb.Value) float64 {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return k.NumberValue
	case *structpb.Value_StringValue:
		f, err := strconv.ParseFloat(strings.TrimSpace(k.StringValue), 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	}
	return 0
}

// ID returns the record id (`_id`).
func (c *Car) ID() string { return c.str("_id") }

// Name returns the display name.
func (c *Car) Name() string { return c.str("name") }

// Slug returns the URL slug, if any.
func (c *Car) Slug() string { return c.str("slug") }

// PricePerDay returns the self-drive daily rate, or 0 when absent.
func (c *Car) PricePerDay() float64 { return c.number("price_per_day") }

// PricePerDayWithDriver returns the chauffeured daily rate, or 0 when absent.
func (c *Car) PricePerDayWithDriver() float64 { return c.number("price_per_day_with_driver") }

// ProtectionPlans returns the add-ons offered for the car. Malformed entries
// are skipped.
func (c *Car) ProtectionPlans() []ProtectionPlan {
	list := c.field("protectionPlans").GetListValue()
	if list == nil {
		return nil
	}
	plans := make([]ProtectionPlan, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			continue
		}
		raw, err := protojson.Marshal(s)
		if err != nil {
			continue
		}
		var p ProtectionPlan
		if err := json.Unmarshal(raw, &p); err != nil {
			p = ProtectionPlan{Name: s.GetFields()["name"].GetStringValue()}
			p.Price = numberValue(s.GetFields()["price"])
		}
		if p.Name == "" {
			continue
		}
		plans = append(plans, p)
	}
	return plans
}

// Rate returns the daily rate that applies to the chosen driving option.
func Rate(c *Car, withDriver bool) float64 {
	if withDriver {
		return c.PricePerDayWithDriver()
	}
	return c.PricePerDay()
}

// PlanPrice returns the price of the named protection plan, or 0 when the
// plan is empty, "none", or not offered for the car.
func PlanPrice(c *Car, name string) float64 {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, NoProtectionPlan) {
		return 0
	}
	for _, p := range c.ProtectionPlans() {
		if strings.EqualFold(p.Name, name) {
			return p.Price
		}
	}
	return 0
}
