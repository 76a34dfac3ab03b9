package services

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/yungbote/fulfillment-backend/internal/domain/intake"
)

// IntakeItem is the typed form of one intake payload after key and value normalization.
type IntakeItem struct {
	ExternalOrderID string     `json:"externalOrderId" validate:"required"`
	ExternalItemID  string     `json:"externalItemId" validate:"required"`
	ContactEmail    string     `json:"contactEmail" validate:"required,email"`
	Topic           string     `json:"topic"`
	ContentKind     string     `json:"contentKind"`
	TargetLength    int        `json:"targetLength" validate:"gte=0"`
	CharacterCount  int        `json:"characterCount" validate:"gte=0"`
	Language        string     `json:"language" validate:"max=16"`
	SearchLanguage  string     `json:"searchLanguage" validate:"max=16"`
	Tone            string     `json:"tone"`
	Bibliography    bool       `json:"bibliography"`
	FAQ             bool       `json:"faq"`
	Tables          bool       `json:"tables"`
	Bold            bool       `json:"bold"`
	BulletLists     bool       `json:"bulletLists"`
	Links           []string   `json:"links" validate:"max=4,dive,required"`
	PriceCents      int64      `json:"price" validate:"gte=0"`
	Currency        string     `json:"currency" validate:"max=8"`
	Status          string     `json:"status" validate:"oneof=Pending InProgress Done Cancelled"`
	StartDate       *time.Time `json:"startDate"`
}

const (
	defaultLanguage    = "pl"
	defaultTone        = "neutral"
	defaultContentKind = "article"
)

// intakeKeyAliases maps a folded key (lowercase, separators and diacritics removed) to its field.
var intakeKeyAliases = map[string]string{
	"externalorderid": "externalOrderId",
	"orderid":         "externalOrderId",
	"idzamowienia":    "externalOrderId",
	"externalitemid":  "externalItemId",
	"itemid":          "externalItemId",
	"idpozycji":       "externalItemId",
	"contactemail":    "contactEmail",
	"email":           "contactEmail",
	"emailkontaktowy": "contactEmail",

	"topic":        "topic",
	"temat":        "topic",
	"title":        "topic",
	"tytul":        "topic",
	"contentkind":  "contentKind",
	"contenttype":  "contentKind",
	"rodzaj":       "contentKind",
	"rodzajtekstu": "contentKind",

	"targetlength":   "targetLength",
	"length":         "targetLength",
	"dlugosc":        "targetLength",
	"charactercount": "characterCount",
	"liczbaznakow":   "characterCount",
	"charcount":      "characterCount",

	"language":          "language",
	"lang":              "language",
	"jezyk":             "language",
	"searchlanguage":    "searchLanguage",
	"jezykwyszukiwania": "searchLanguage",
	"tone":              "tone",
	"ton":               "tone",

	"bibliography":  "bibliography",
	"bibliografia":  "bibliography",
	"faq":           "faq",
	"tables":        "tables",
	"tabele":        "tables",
	"bold":          "bold",
	"pogrubienia":   "bold",
	"bulletlists":   "bulletLists",
	"wypunktowania": "bulletLists",
	"listy":         "bulletLists",

	"links": "links",
	"linki": "links",

	"price":    "price",
	"cena":     "price",
	"currency": "currency",
	"waluta":   "currency",

	"status":          "status",
	"startdate":       "startDate",
	"datarozpoczecia": "startDate",
	"flags":           "flags",
	"flagi":           "flags",
}

var polishFold = strings.NewReplacer(
	"ą", "a", "ć", "c", "ę", "e", "ł", "l", "ń", "n", "ó", "o", "ś", "s", "ź", "z", "ż", "z",
)

// foldKey makes "external_order_id", "externalOrderId", "External-Order-Id" and "liczba znaków" comparable.
func foldKey(k string) string {
	k = polishFold.Replace(strings.ToLower(strings.TrimSpace(k)))
	var b strings.Builder
	b.Grow(len(k))
	for _, r := range k {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeIntake converts one loosely typed JSON object into an IntakeItem, applying defaults.
func NormalizeIntake(obj gjson.Result) IntakeItem {
	fields := map[string]gjson.Result{}
	var linkSlots []gjson.Result
	obj.ForEach(func(key, value gjson.Result) bool {
		folded := foldKey(key.String())
		if strings.HasPrefix(folded, "link") && len(folded) == 5 && folded[4] >= '1' && folded[4] <= '4' {
			linkSlots = append(linkSlots, value)
			return true
		}
		if name, ok := intakeKeyAliases[folded]; ok {
			if _, seen := fields[name]; !seen {
				fields[name] = value
			}
		}
		return true
	})
	if flags, ok := fields["flags"]; ok && flags.IsObject() {
		flags.ForEach(func(key, value gjson.Result) bool {
			if name, ok := intakeKeyAliases[foldKey(key.String())]; ok {
				if _, seen := fields[name]; !seen {
					fields[name] = value
				}
			}
			return true
		})
	}

	item := IntakeItem{
		ExternalOrderID: asString(fields["externalOrderId"]),
		ExternalItemID:  asString(fields["externalItemId"]),
		ContactEmail:    asString(fields["contactEmail"]),
		Topic:           asString(fields["topic"]),
		ContentKind:     strings.ToLower(asString(fields["contentKind"])),
		TargetLength:    int(asInt(fields["targetLength"])),
		CharacterCount:  int(asInt(fields["characterCount"])),
		Language:        strings.ToLower(asString(fields["language"])),
		SearchLanguage:  strings.ToLower(asString(fields["searchLanguage"])),
		Tone:            strings.ToLower(asString(fields["tone"])),
		Bibliography:    asBool(fields["bibliography"]),
		FAQ:             asBool(fields["faq"]),
		Tables:          asBool(fields["tables"]),
		Bold:            asBool(fields["bold"]),
		BulletLists:     asBool(fields["bulletLists"]),
		Links:           asLinks(fields["links"], linkSlots),
		PriceCents:      asCents(fields["price"]),
		Currency:        strings.ToUpper(asString(fields["currency"])),
		Status:          asIntakeStatus(fields["status"]),
		StartDate:       asTime(fields["startDate"]),
	}
	if item.Language == "" {
		item.Language = defaultLanguage
	}
	if item.SearchLanguage == "" {
		item.SearchLanguage = item.Language
	}
	if item.Tone == "" {
		item.Tone = defaultTone
	}
	if item.ContentKind == "" {
		item.ContentKind = defaultContentKind
	}
	if item.TargetLength == 0 && item.CharacterCount > 0 {
		item.TargetLength = item.CharacterCount
	}
	return item
}

func asString(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return strings.TrimSpace(v.Str)
	case gjson.Number:
		return v.Raw
	case gjson.True, gjson.False:
		return v.Raw
	}
	return ""
}

func parseNumber(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Num, true
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		s = strings.ReplaceAll(s, " ", "")
		s = strings.ReplaceAll(s, " ", "")
		s = strings.ReplaceAll(s, ",", ".")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func asInt(v gjson.Result) int64 {
	f, ok := parseNumber(v)
	if !ok || f < 0 {
		return 0
	}
	return int64(math.Round(f))
}

func asCents(v gjson.Result) int64 {
	f, ok := parseNumber(v)
	if !ok || f < 0 {
		return 0
	}
	return int64(math.Round(f * 100))
}

func asBool(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return v.Num != 0
	case gjson.String:
		switch strings.ToLower(strings.TrimSpace(v.Str)) {
		case "true", "1", "yes", "y", "tak", "t", "on":
			return true
		}
	}
	return false
}

func asLinks(v gjson.Result, slots []gjson.Result) []string {
	var out []string
	add := func(r gjson.Result) {
		if s := asString(r); s != "" {
			out = append(out, s)
		}
	}
	switch {
	case v.IsArray():
		for _, r := range v.Array() {
			add(r)
		}
	case v.Type == gjson.String:
		for _, s := range strings.FieldsFunc(v.Str, func(r rune) bool { return r == ',' || r == '\n' || unicode.IsSpace(r) }) {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	for _, r := range slots {
		add(r)
	}
	return out
}

func asIntakeStatus(v gjson.Result) string {
	switch foldKey(asString(v)) {
	case "", "pending":
		return intake.StatusPending
	case "inprogress":
		return intake.StatusInProgress
	case "done":
		return intake.StatusDone
	case "cancelled", "canceled":
		return intake.StatusCancelled
	}
	// unknown values are kept so validation reports them
	return asString(v)
}

var startDateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02", "02.01.2006"}

func asTime(v gjson.Result) *time.Time {
	s := asString(v)
	if s == "" {
		return nil
	}
	for _, layout := range startDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
