package internal

import (
	"chat-hub/repositories"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const DefaultInspectPrefix = "conv:"

// InspectRow is one Badger entry rendered for humans.
type InspectRow struct {
	Key       string
	Kind      string
	Timestamp string
	EntityID  string
	Detail    string
}

type RowMapper func(key string, val []byte) InspectRow

type StatsProvider func() map[string]any

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

var inspectTemplate = template.Must(template.New("inspect").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>chat-hub inspect</title></head>
<body>
<form method="get"><input name="prefix" value="{{.Prefix}}"><button>Scan</button></form>
{{if .Stats}}<ul>{{range $k, $v := .Stats}}<li>{{$k}}: {{$v}}</li>{{end}}</ul>{{end}}
<table>
<tr><th>Key</th><th>Kind</th><th>Time</th><th>Entity</th><th>Detail</th></tr>
{{range .Items}}<tr><td>{{.Key}}</td><td>{{.Kind}}</td><td>{{.Timestamp}}</td><td>{{.EntityID}}</td><td>{{.Detail}}</td></tr>
{{end}}</table>
</body></html>`))

// Scan maps every entry under prefix.
func Scan(db *badger.DB, prefix string, mapper RowMapper) ([]InspectRow, error) {
	if mapper == nil {
		mapper = RecordMapper
	}
	var rows []InspectRow
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			if err := item.Value(func(val []byte) error {
				rows = append(rows, mapper(key, val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return rows, err
}

// InspectHandler serves an HTML view of the store. The prefix query parameter selects the keys.
func InspectHandler(db *badger.DB, mapper RowMapper, stats StatsProvider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = DefaultInspectPrefix
		}
		data := PageData{Prefix: prefix, Stats: map[string]any{}}
		if stats != nil {
			data.Stats = stats()
		}
		items, err := Scan(db, prefix, mapper)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data.Items = items
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = inspectTemplate.Execute(w, data)
	})
}

// DefaultMapper shows the key and the value size only.
func DefaultMapper(key string, val []byte) InspectRow {
	row := InspectRow{
		Key:       key,
		Kind:      "raw",
		Timestamp: "--:--:--",
		EntityID:  "--------",
		Detail:    fmt.Sprintf("Size: %d bytes", len(val)),
	}
	if i := strings.Index(key, ":"); i > 0 {
		row.Kind = key[:i]
		row.EntityID = key[strings.LastIndex(key, ":")+1:]
	}
	return row
}

// RecordMapper decodes conversations, messages and users; index entries fall back to DefaultMapper.
func RecordMapper(key string, val []byte) InspectRow {
	row := DefaultMapper(key, val)
	switch row.Kind {
	case "conv":
		var c repositories.DiskConversation
		if err := json.Unmarshal(val, &c); err != nil {
			row.Detail = "Error: unmarshal failed"
			return row
		}
		row.Kind = "conversation/" + c.Type
		row.Timestamp = clock(c.LastActivity)
		row.Detail = fmt.Sprintf("participants=%s active=%t", strings.Join(c.Participants, ","), c.Active)
		if c.Title != "" {
			row.Detail = fmt.Sprintf("%q %s", c.Title, row.Detail)
		}
	case "msg":
		var m repositories.DiskMessage
		if err := json.Unmarshal(val, &m); err != nil {
			row.Detail = "Error: unmarshal failed"
			return row
		}
		row.Kind = "message/" + m.Type
		row.Timestamp = clock(m.CreatedAt)
		switch {
		case m.DeletedAt != 0:
			row.Detail = fmt.Sprintf("%s: <deleted by %s>", m.SenderID, m.DeletedBy)
		case m.Attachment != nil:
			row.Detail = fmt.Sprintf("%s: %s (%s)", m.SenderID, m.Attachment.Name, m.Attachment.URL)
		default:
			row.Detail = fmt.Sprintf("%s: %s", m.SenderID, m.Content)
		}
		if len(m.Reactions) > 0 {
			row.Detail += fmt.Sprintf(" [%d reactions]", len(m.Reactions))
		}
	case "user":
		var u repositories.DiskUser
		if err := json.Unmarshal(val, &u); err != nil {
			row.Detail = "Error: unmarshal failed"
			return row
		}
		row.Detail = u.Username
	case "pair", "msgid":
		row.Detail = "-> " + string(val)
	}
	return row
}

func clock(nanos int64) string {
	if nanos == 0 {
		return "--:--:--"
	}
	return time.Unix(0, nanos).Format("15:04:05")
}
