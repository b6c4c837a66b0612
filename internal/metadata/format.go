package metadata

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ripple.app/sync/internal/model"
)

// LocalizedLabel resolves a localized label with fallback to the default
// locale. Returns "" when the map has nothing usable; callers fall back to
// the raw field name.
func LocalizedLabel(labels map[string]string, locale string) string {
	if len(labels) == 0 {
		return ""
	}
	if label, ok := labels[locale]; ok {
		return label
	}
	if label, ok := labels["en"]; ok {
		return label
	}
	return ""
}

// FormatValue renders a field value as the human-readable string used in
// alert diffs. Unknown kinds fall through to fmt.Sprint.
func (g *Graph) FormatValue(field *model.Field, value any) string {
	return g.formatValue(field, value, false)
}

func (g *Graph) formatValue(field *model.Field, value any, ignoreList bool) string {
	if value == nil {
		return ""
	}

	if field == nil {
		return fmt.Sprint(value)
	}

	if field.IsList && !ignoreList {
		items := asList(value)
		parts := make([]string, 0, len(items))
		for _, item := range items {
			parts = append(parts, g.formatValue(field, item, true))
		}
		return strings.Join(parts, ", ")
	}

	switch field.Type {
	case model.KindBoolean:
		if b, ok := value.(bool); ok && b {
			return "Yes"
		}
		return "No"
	case model.KindPersonName:
		return stringField(value, "full")
	case model.KindLookup:
		return g.formatLookup(field, value)
	case model.KindAddress:
		return formatAddress(value)
	case model.KindPhone:
		return formatPhone(value)
	case model.KindMoney:
		return formatMoney(value)
	case model.KindDate:
		if t, ok := asTime(value); ok {
			return t.UTC().Format("02/01/2006")
		}
		return fmt.Sprint(value)
	case model.KindDateTime:
		if t, ok := asTime(value); ok {
			return t.UTC().Format("02/01/2006 15:04:05")
		}
		return fmt.Sprint(value)
	case model.KindPicklist:
		if items := asList(value); items != nil {
			parts := make([]string, 0, len(items))
			for _, item := range items {
				parts = append(parts, fmt.Sprint(item))
			}
			return strings.Join(parts, ", ")
		}
		return fmt.Sprint(value)
	case model.KindFilter:
		return "(filter)"
	default:
		return fmt.Sprint(value)
	}
}

// formatLookup renders the snapshotted description fields of a lookup value,
// recursing into description fields that are themselves lookups.
func (g *Graph) formatLookup(field *model.Field, value any) string {
	doc, ok := g.Document(field.Document)
	if !ok {
		return fmt.Sprint(value)
	}

	snapshot, ok := asDoc(value)
	if !ok {
		return fmt.Sprint(value)
	}

	parts := make([]string, 0, len(field.DescriptionFields))
	for _, path := range field.DescriptionFields {
		descField := doc.Fields[model.FirstPart(path)]
		if descField == nil {
			continue
		}
		inner, ok := snapshot[descField.Name]
		if !ok || inner == nil {
			continue
		}
		parts = append(parts, g.formatValue(descField, inner, false))
	}
	return strings.Join(parts, " - ")
}

func formatAddress(value any) string {
	doc, ok := asDoc(value)
	if !ok {
		return fmt.Sprint(value)
	}
	var b strings.Builder
	appendPart := func(key, prefix string) {
		if v, ok := doc[key]; ok && v != nil {
			fmt.Fprintf(&b, "%s%v", prefix, v)
		}
	}
	appendPart("placeType", "")
	appendPart("place", " ")
	appendPart("number", ", ")
	appendPart("complement", ", ")
	appendPart("district", ", ")
	appendPart("city", ", ")
	appendPart("state", ", ")
	appendPart("country", ", ")
	appendPart("postalCode", ", ")
	return b.String()
}

func formatPhone(value any) string {
	doc, ok := asDoc(value)
	if !ok {
		return fmt.Sprint(value)
	}
	var parts []string
	if cc, ok := doc["countryCode"]; ok && cc != nil {
		parts = append(parts, fmt.Sprint(cc))
	}
	if number, ok := doc["phoneNumber"].(string); ok && len(number) > 6 {
		parts = append(parts, fmt.Sprintf(" (%s) %s-%s", number[0:2], number[2:6], number[6:]))
	}
	return strings.Join(parts, "")
}

func formatMoney(value any) string {
	doc, ok := asDoc(value)
	if !ok {
		return fmt.Sprint(value)
	}
	amount := doc["value"]
	if currency, _ := doc["currency"].(string); currency == "BRL" {
		return fmt.Sprintf("R$ %.2f", asFloat(amount))
	}
	return fmt.Sprintf("$ %.2f", asFloat(amount))
}

func stringField(value any, key string) string {
	if doc, ok := asDoc(value); ok {
		if v, ok := doc[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return fmt.Sprint(value)
}

func asDoc(value any) (bson.M, bool) {
	switch v := value.(type) {
	case bson.M:
		return v, true
	case map[string]any:
		return bson.M(v), true
	case bson.D:
		return v.Map(), true
	default:
		return nil, false
	}
}

func asList(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case bson.A:
		return []any(v)
	default:
		return nil
	}
}

func asTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case primitive.DateTime:
		return v.Time(), true
	default:
		return time.Time{}, false
	}
}

func asFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
