package prompt

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Variables derives the template variables from a saju document. The
// document layout varies between calculator versions, so several sections
// have an alternate key.
func Variables(saju []byte, userName string) map[string]string {
	doc := gjson.ParseBytes(saju)
	if !doc.IsObject() || len(doc.Map()) == 0 {
		return map[string]string{"name": userName, "saju_data": "{}"}
	}

	meta := doc.Get("meta")
	core := firstOf(doc, "핵심요소", "사주")
	ohang := firstOf(doc, "오행", "오행분석")
	sipsung := firstOf(doc, "십성", "십성분석")
	daewoon := doc.Get("대운")
	sewoon := doc.Get("세운")
	sinsal := doc.Get("신살")
	gisin := doc.Get("기신")

	detail := sipsung.Get("상세")
	count := func(a, b string) string {
		return formatNumber(detail.Get(a).Num + detail.Get(b).Num)
	}

	ilju := core.Get("일주").String()
	ilji := ""
	if r := []rune(ilju); len(r) >= 2 {
		ilji = string(r[1])
	}

	dohwasal := "없음"
	if truthy(sinsal.Get("특수").Get("도화살")) {
		dohwasal = "있음"
	}

	mbti := "알 수 없음"
	if v := meta.Get("mbti"); v.Exists() {
		mbti = plainString(v)
	}

	return map[string]string{
		"name":             userName,
		"gender":           meta.Get("성별").String(),
		"ilju":             ilju,
		"ilgan":            core.Get("일간").String(),
		"ilji":             ilji,
		"ohang_gwada":      reprOr(ohang.Get("과다"), "[]"),
		"ohang_gyeolpip":   reprOr(ohang.Get("결핍"), "[]"),
		"sipsung_gwada":    reprOr(sipsung.Get("과다"), "[]"),
		"sipsung_gyeolpip": reprOr(sipsung.Get("결핍"), "[]"),
		"jaesong_count":    count("정재", "편재"),
		"gwansung_count":   count("정관", "편관"),
		"siksang_count":    count("식신", "상관"),
		"insung_count":     count("정인", "편인"),
		"bigeop_count":     count("비견", "겁재"),
		"current_daewoon":  daewoon.Get("현재").Get("간지").String(),
		"sewoon_2026":      sewoon.Get("분석대상").Get("간지").String(),
		"sinsal":           reprOr(sinsal, "{}"),
		"dohwasal":         dohwasal,
		"mbti":             mbti,
		"gisin":            reprOr(gisin.Get("오행"), "[]"),
		"saju_data":        PrettyJSON(saju),
	}
}

// PrettyJSON indents a JSON document by two spaces, keeping key order.
// String escapes such as \uD64D are decoded so non-ASCII text reaches the
// prompt as written.
func PrettyJSON(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if !gjson.ValidBytes(raw) {
		return string(raw)
	}
	var sb strings.Builder
	writeIndented(&sb, gjson.ParseBytes(raw), 0)
	return sb.String()
}

func writeIndented(sb *strings.Builder, v gjson.Result, depth int) {
	switch {
	case v.IsObject() || v.IsArray():
		open, end := "{", "}"
		if v.IsArray() {
			open, end = "[", "]"
		}
		pad := strings.Repeat("  ", depth+1)
		n := 0
		v.ForEach(func(key, val gjson.Result) bool {
			if n == 0 {
				sb.WriteString(open)
			} else {
				sb.WriteByte(',')
			}
			sb.WriteByte('\n')
			sb.WriteString(pad)
			if v.IsObject() {
				sb.WriteString(jsonString(key.Str))
				sb.WriteString(": ")
			}
			writeIndented(sb, val, depth+1)
			n++
			return true
		})
		if n == 0 {
			sb.WriteString(open + end)
			return
		}
		sb.WriteByte('\n')
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(end)
	case v.Type == gjson.String:
		sb.WriteString(jsonString(v.Str))
	default:
		sb.WriteString(v.Raw)
	}
}

func jsonString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return strconv.Quote(s)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func firstOf(doc gjson.Result, key, alt string) gjson.Result {
	if v := doc.Get(key); v.Exists() {
		return v
	}
	return doc.Get(alt)
}

func reprOr(v gjson.Result, def string) string {
	if !v.Exists() {
		return def
	}
	return literalRepr(v)
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// truthy follows the dynamic-language notion the prompt authors rely on:
// null, false, 0, "" and empty containers are false.
func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null:
		return false
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return v.Num != 0
	case gjson.String:
		return v.Str != ""
	case gjson.JSON:
		empty := true
		v.ForEach(func(_, _ gjson.Result) bool {
			empty = false
			return false
		})
		return !empty
	}
	return false
}

// plainString returns strings bare and every other value as a literal.
func plainString(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.Str
	}
	return literalRepr(v)
}

// literalRepr renders a JSON value in the single-quoted literal form the
// prompt templates expect: ['목', '화'], {'도화살': True}.
func literalRepr(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return "None"
	case gjson.False:
		return "False"
	case gjson.True:
		return "True"
	case gjson.Number:
		if !strings.ContainsAny(v.Raw, ".eE") {
			return v.Raw
		}
		f := strconv.FormatFloat(v.Num, 'f', -1, 64)
		if !strings.Contains(f, ".") {
			f += ".0"
		}
		return f
	case gjson.String:
		return quote(v.Str)
	case gjson.JSON:
		var sb strings.Builder
		if v.IsArray() {
			sb.WriteByte('[')
			i := 0
			v.ForEach(func(_, item gjson.Result) bool {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(literalRepr(item))
				i++
				return true
			})
			sb.WriteByte(']')
			return sb.String()
		}
		sb.WriteByte('{')
		i := 0
		v.ForEach(func(key, item gjson.Result) bool {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(quote(key.Str))
			sb.WriteString(": ")
			sb.WriteString(literalRepr(item))
			i++
			return true
		})
		sb.WriteByte('}')
		return sb.String()
	}
	return ""
}

func quote(s string) string {
	q := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}
	var sb strings.Builder
	sb.WriteByte(q)
	for _, r := range s {
		switch {
		case r == '\\':
			sb.WriteString(`\\`)
		case r == rune(q):
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\r':
			sb.WriteString(`\r`)
		case r == '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte(q)
	return sb.String()
}
