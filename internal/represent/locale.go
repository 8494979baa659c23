package represent

import (
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type dateLayouts struct {
	date     string
	time     string
	dateTime string
}

var isoLayouts = dateLayouts{
	date:     "2006-01-02",
	time:     "15:04:05",
	dateTime: "2006-01-02 15:04:05",
}

var localeTable = []struct {
	tag     language.Tag
	layouts dateLayouts
}{
	{language.AmericanEnglish, dateLayouts{"1/2/2006", "3:04:05 PM", "1/2/2006, 3:04:05 PM"}},
	{language.BritishEnglish, dateLayouts{"02/01/2006", "15:04:05", "02/01/2006, 15:04:05"}},
	{language.German, dateLayouts{"2.1.2006", "15:04:05", "2.1.2006, 15:04:05"}},
	{language.French, dateLayouts{"02/01/2006", "15:04:05", "02/01/2006 15:04:05"}},
	{language.Spanish, dateLayouts{"2/1/2006", "15:04:05", "2/1/2006, 15:04:05"}},
	{language.Italian, dateLayouts{"2/1/2006", "15:04:05", "2/1/2006, 15:04:05"}},
	{language.Dutch, dateLayouts{"2-1-2006", "15:04:05", "2-1-2006, 15:04:05"}},
	{language.Japanese, dateLayouts{"2006/1/2", "15:04:05", "2006/1/2 15:04:05"}},
	{language.Chinese, dateLayouts{"2006/1/2", "15:04:05", "2006/1/2 15:04:05"}},
}

var localeMatcher = func() language.Matcher {
	tags := make([]language.Tag, len(localeTable))
	for i, e := range localeTable {
		tags[i] = e.tag
	}
	return language.NewMatcher(tags)
}()

type resolvedLocale struct {
	tag     language.Tag
	layouts dateLayouts
	printer *message.Printer
}

var locales sync.Map // string -> *resolvedLocale

// resolveLocale maps a BCP 47 string to date layouts and a message printer.
// Empty or unparseable locales resolve to ISO layouts and English numbers.
func resolveLocale(locale string) *resolvedLocale {
	if v, ok := locales.Load(locale); ok {
		return v.(*resolvedLocale)
	}

	r := &resolvedLocale{tag: language.English, layouts: isoLayouts}
	if locale != "" {
		if tag, err := language.Parse(locale); err == nil {
			r.tag = tag
			if _, idx, conf := localeMatcher.Match(tag); conf != language.No {
				r.layouts = localeTable[idx].layouts
			}
		}
	}
	r.printer = message.NewPrinter(r.tag)

	v, _ := locales.LoadOrStore(locale, r)
	return v.(*resolvedLocale)
}

func moreSuffix(locale string, n int) string {
	return resolveLocale(locale).printer.Sprintf("%d more", n)
}
