package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spend-dashboard/internal/models"
)

// Canonical field names. Each one is looked up under the dotted store form
// ("spend.amount"), the underscore form ("spend_amount"), the bare name and a
// nested "spend" object, in that order.
const (
	FieldID               = "id"
	FieldUserID           = "userId"
	FieldUserEmail        = "userEmail"
	FieldAmount           = "amount"
	FieldStatus           = "status"
	FieldAuthorizedAt     = "authorizedAt"
	FieldMerchantName     = "merchantName"
	FieldMerchantCountry  = "merchantCountry"
	FieldMerchantCategory = "merchantCategory"
	FieldType             = "type"

	namespace = "spend"
)

var requiredFields = []string{FieldAmount, FieldStatus, FieldAuthorizedAt}

// the store has used both spellings of the user id column
var fieldAliases = map[string][]string{
	FieldUserID: {"userID", "user_id"},
}

var statusMapping = map[string]models.Status{
	"completed": models.StatusCompleted,
	"pending":   models.StatusPending,
	"reversed":  models.StatusReversed,
	"cancelled": models.StatusReversed,
	"canceled":  models.StatusReversed,
	"declined":  models.StatusDeclined,
	"failed":    models.StatusDeclined,
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// SchemaError reports a required field that no record carries at all. It is
// distinct from per-row data quality defaults.
type SchemaError struct {
	Field string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: required field %q is absent from every record", e.Field)
}

// Quality counts the rows whose values were replaced by a default during
// normalization.
type Quality struct {
	TotalRows         int `json:"total_rows"`
	DefaultedAmounts  int `json:"defaulted_amounts"`
	MissingTimestamps int `json:"missing_timestamps"`
	UnknownStatuses   int `json:"unknown_statuses"`
	MissingEntityKeys int `json:"missing_entity_keys"`
}

// Normalize converts raw store rows into canonical records. Bad values never
// drop a row: amounts default to 0, timestamps to none and statuses to
// unknown, and each substitution is counted in the returned Quality.
func Normalize(raw []models.RawRecord) ([]models.Record, Quality, error) {
	q := Quality{TotalRows: len(raw)}
	if len(raw) == 0 {
		return []models.Record{}, q, nil
	}

	if err := checkSchema(raw); err != nil {
		return nil, q, err
	}

	records := make([]models.Record, 0, len(raw))
	for _, row := range raw {
		rec, flags := normalizeRecord(row)
		if flags.amountDefaulted {
			q.DefaultedAmounts++
		}
		if !rec.HasTime {
			q.MissingTimestamps++
		}
		if rec.Status == models.StatusUnknown {
			q.UnknownStatuses++
		}
		if rec.EntityKey() == "" {
			q.MissingEntityKeys++
		}
		records = append(records, rec)
	}
	return records, q, nil
}

func checkSchema(raw []models.RawRecord) error {
	for _, field := range requiredFields {
		found := false
		for _, row := range raw {
			if _, ok := lookup(row, field); ok {
				found = true
				break
			}
		}
		if !found {
			return &SchemaError{Field: field}
		}
	}
	return nil
}

type normalizeFlags struct {
	amountDefaulted bool
}

func normalizeRecord(row models.RawRecord) (models.Record, normalizeFlags) {
	var flags normalizeFlags

	rec := models.Record{
		ID:               stringField(row, FieldID),
		UserID:           stringField(row, FieldUserID),
		UserEmail:        stringField(row, FieldUserEmail),
		Status:           NormalizeStatus(stringField(row, FieldStatus)),
		MerchantName:     stringField(row, FieldMerchantName),
		MerchantCountry:  strings.ToUpper(stringField(row, FieldMerchantCountry)),
		MerchantCategory: stringField(row, FieldMerchantCategory),
		Type:             stringField(row, FieldType),
	}

	v, _ := lookup(row, FieldAmount)
	amount, ok := parseMinorUnits(v)
	if amount == math.MinInt64 {
		amount, ok = 0, false
	}
	if !ok {
		flags.amountDefaulted = true
	}
	rec.Amount = amount
	rec.AmountUSD = decimal.New(amount, -2)

	v, _ = lookup(row, FieldAuthorizedAt)
	if ts, ok := ParseTimestamp(v); ok {
		rec.AuthorizedAt = ts
		rec.HasTime = true
		rec.Date = ts.Format(dateLayout)
		rec.Hour = ts.Hour()
		rec.Week = isoWeek(ts)
		rec.Month = ts.Format(monthLayout)
	}

	return rec, flags
}

// NormalizeStatus maps a raw status literal onto the canonical vocabulary.
func NormalizeStatus(raw string) models.Status {
	if s, ok := statusMapping[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return models.StatusUnknown
}

func lookup(row models.RawRecord, field string) (any, bool) {
	names := append([]string{field}, fieldAliases[field]...)
	for _, name := range names {
		for _, key := range []string{namespace + "." + name, namespace + "_" + name, name} {
			if v, ok := row[key]; ok {
				return v, true
			}
		}
		if nested, ok := row[namespace].(map[string]any); ok {
			if v, ok := nested[name]; ok {
				return v, true
			}
		}
	}
	return nil, false
}

func stringField(row models.RawRecord, field string) string {
	v, ok := lookup(row, field)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func parseMinorUnits(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint32:
		return int64(t), true
	case uint64:
		if t > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case float32:
		return truncateFloat(float64(t))
	case float64:
		return truncateFloat(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		return 0, false
	case decimal.Decimal:
		return t.IntPart(), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case []byte:
		return parseMinorUnits(string(t))
	default:
		return 0, false
	}
}

func truncateFloat(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// ParseTimestamp accepts the timestamp shapes the store has produced over
// time. Values without a zone are taken as UTC; the result is always UTC.
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return ParseTimestamp(*t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		return time.Time{}, false
	case []byte:
		return ParseTimestamp(string(t))
	default:
		return time.Time{}, false
	}
}

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

func isoWeek(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}
