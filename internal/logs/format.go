package logs

import (
	"sort"
	"strings"

	"newsrelay/internal/logging"
)

// FormatEvent renders evt as a single console line.
func FormatEvent(evt logging.LogEvent) string {
	var b strings.Builder
	b.WriteString(evt.Timestamp.Local().Format("15:04:05"))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(evt.Level))
	if evt.Component != "" {
		b.WriteString(" [" + evt.Component + "]")
	}
	if evt.EnvelopeID != "" {
		b.WriteString(" " + evt.EnvelopeID)
	}
	if evt.Stage != "" {
		b.WriteString("/" + evt.Stage)
	}
	b.WriteString(" " + evt.Message)

	keys := make([]string, 0, len(evt.Fields))
	for k := range evt.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" " + k + "=" + evt.Fields[k])
	}
	return b.String()
}
