package internal

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

//go:embed inspect.html
var templatesFS embed.FS

const defaultPrefix = "chat:"

type InspectRow struct {
	Key       string
	Type      string
	Timestamp string
	EntityID  string
	Namespace string
	Detail    string
}

type RowMapper func(key string, val []byte) InspectRow
type StatsProvider func() map[string]any

type PageData struct {
	Prefix   string
	Prefixes []string
	Items    []InspectRow
	Stats    []Stat
	Limit    int
}

type Stat struct {
	Name  string
	Value any
}

// NewDebugHandler serves a read-only page listing the store keys under a prefix.
func NewDebugHandler(db *badger.DB, endpoint string, mapper RowMapper, statsProvider StatsProvider, limit int) http.Handler {
	mux := http.NewServeMux()
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))

	if mapper == nil {
		mapper = DefaultMapper
	}
	if limit <= 0 {
		limit = 500
	}

	mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = defaultPrefix
		}

		data := PageData{
			Prefix:   prefix,
			Prefixes: []string{"chat:", "msg:", "user:", "username:"},
			Limit:    limit,
		}
		if statsProvider != nil {
			data.Stats = sortedStats(statsProvider())
		}

		_ = db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)) && len(data.Items) < limit; it.Next() {
				item := it.Item()
				_ = item.Value(func(val []byte) error {
					data.Items = append(data.Items, mapper(string(item.KeyCopy(nil)), val))
					return nil
				})
			}
			return nil
		})

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	})
	return mux
}

// NewDebugServer binds the inspector on every interface so it can be reached from the network.
func NewDebugServer(db *badger.DB, port int, mapper RowMapper, statsProvider StatsProvider) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", port),
		Handler:           NewDebugHandler(db, "/inspect", mapper, statsProvider, 0),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func sortedStats(stats map[string]any) []Stat {
	out := make([]Stat, 0, len(stats))
	for k, v := range stats {
		out = append(out, Stat{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func DefaultMapper(key string, val []byte) InspectRow {
	parts := strings.Split(key, ":")
	row := InspectRow{
		Key:       key,
		Type:      "RAW",
		Timestamp: "--:--:--",
		EntityID:  "--------",
		Namespace: parts[0],
		Detail:    "Size: " + strconv.Itoa(len(val)) + " bytes",
	}
	if len(parts) >= 2 {
		row.EntityID = shortID(parts[len(parts)-1])
	}
	return row
}

// RelayMapper decodes the JSON records written by the repositories.
func RelayMapper(key string, val []byte) InspectRow {
	row := DefaultMapper(key, val)
	var record map[string]any
	decoder := json.NewDecoder(bytes.NewReader(val))
	decoder.UseNumber()
	if err := decoder.Decode(&record); err != nil {
		return row
	}

	switch row.Namespace {
	case "chat":
		row.Type = "CHAT"
		row.Detail = fmt.Sprintf("%v (%d members)", record["name"], countOf(record["members"]))
	case "msg":
		row.Type = "MESSAGE"
		row.Detail = fmt.Sprintf("%v: %v", record["sender"], record["content"])
	case "user":
		row.Type = "USER"
		row.Detail = fmt.Sprintf("%v (%v)", record["username"], record["name"])
	}
	for _, field := range []string{"created_at", "at"} {
		if n, ok := record[field].(json.Number); ok {
			if nanos, err := n.Int64(); err == nil {
				row.Timestamp = time.Unix(0, nanos).Format("15:04:05")
			}
		}
	}
	return row
}

func countOf(v any) int {
	if items, ok := v.([]any); ok {
		return len(items)
	}
	return 0
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
