package eventlog

import (
	"encoding/json"
	"fmt"

	"github.com/logasync/eventlog/internal/constants"
)

// LogstashFormatter is the default Formatter: it produces a Logstash-
// compatible JSON object (the original Python implementation delegates to
// the external python-logstash-async package for this; this is this
// module's own concrete instance of that contract, since a library that
// only defines the interface is not a complete deliverable).
type LogstashFormatter struct {
	// Program names the emitting application in the "program" field.
	// Defaults to "eventlog" if empty.
	Program string

	// Type is the Logstash "type" field. Defaults to "log".
	Type string

	// Tags are appended verbatim to every record's "tags" array.
	Tags []string
}

func (f *LogstashFormatter) Format(r Record) ([]byte, error) {
	program := f.Program
	if program == "" {
		program = "eventlog"
	}
	typ := f.Type
	if typ == "" {
		typ = "log"
	}

	doc := map[string]any{
		"@timestamp": r.Time.UTC().Format("2006-01-02T15:04:05.000Z"),
		"@version":   "1",
		"host":       r.Host,
		"level":      r.Level,
		"logsource":  r.Host,
		"message":    r.Message,
		"pid":        r.PID,
		"program":    program,
		"type":       typ,
		"tags":       f.Tags,
	}

	for k, v := range r.Fields {
		if _, skip := constants.RecordFieldSkipList[k]; skip {
			continue
		}
		if _, reserved := doc[k]; reserved {
			continue
		}
		doc[k] = v
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("eventlog: format record: %w", err)
	}
	return out, nil
}

var _ Formatter = (*LogstashFormatter)(nil)
