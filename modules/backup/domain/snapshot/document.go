// Package snapshot holds the portable, versioned document a tenant export produces.
package snapshot

import (
	"bytes"
	"encoding/json"
	"time"
)

// Version is the only snapshot format this build reads and writes.
const Version = "1.0"

// Row is one flat entity record keyed by field name.
type Row map[string]any

type Metadata struct {
	Version    string    `json:"version" validate:"required"`
	TenantID   int64     `json:"tenant_id" validate:"gte=0"`
	TenantName string    `json:"tenant_name"`
	ExportedAt time.Time `json:"exported_at"`
}

// Group is global access-control data. Permissions use app_label.codename.
type Group struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name" validate:"required"`
	Permissions []string `json:"permissions"`
}

type User struct {
	ID        int64    `json:"id"`
	Username  string   `json:"username" validate:"required"`
	Email     string   `json:"email"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	IsActive  bool     `json:"is_active"`
	Groups    []string `json:"groups"`
}

type Section struct {
	Key  string
	Rows []Row
}

type Document struct {
	Metadata Metadata `validate:"required"`
	Tenant   Row
	Groups   []Group `validate:"dive"`
	Users    []User  `validate:"dive"`
	sections []Section
}

// Rows returns the rows of entity key, or nil when the snapshot has none.
func (d *Document) Rows(key string) []Row {
	for _, s := range d.sections {
		if s.Key == key {
			return s.Rows
		}
	}
	return nil
}

// SetRows replaces the rows of key, appending a new section if needed.
func (d *Document) SetRows(key string, rows []Row) {
	for i := range d.sections {
		if d.sections[i].Key == key {
			d.sections[i].Rows = rows
			return
		}
	}
	d.sections = append(d.sections, Section{Key: key, Rows: rows})
}

// Sections returns the entity arrays in document order.
func (d *Document) Sections() []Section {
	return d.sections
}

// Counts returns the number of rows per entity key, plus groups and users.
func (d *Document) Counts() map[string]int {
	out := make(map[string]int, len(d.sections)+2)
	out["groups"] = len(d.Groups)
	out["users"] = len(d.Users)
	for _, s := range d.sections {
		out[s.Key] = len(s.Rows)
	}
	return out
}

func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}

	tenant := d.Tenant
	if tenant == nil {
		tenant = Row{}
	}
	groups := d.Groups
	if groups == nil {
		groups = []Group{}
	}
	users := make([]User, len(d.Users))
	copy(users, d.Users)
	for i := range users {
		if users[i].Groups == nil {
			users[i].Groups = []string{}
		}
	}
	if err := write("metadata", d.Metadata); err != nil {
		return nil, err
	}
	if err := write("tenant", tenant); err != nil {
		return nil, err
	}
	if err := write("groups", groups); err != nil {
		return nil, err
	}
	if err := write("users", users); err != nil {
		return nil, err
	}
	for _, s := range d.sections {
		rows := s.Rows
		if rows == nil {
			rows = []Row{}
		}
		if err := write(s.Key, rows); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return formatError("snapshot must be a JSON object")
	}

	var out Document
	seenMetadata := false
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)
		switch key {
		case "metadata":
			seenMetadata = true
			err = dec.Decode(&out.Metadata)
		case "tenant":
			err = dec.Decode(&out.Tenant)
		case "groups":
			err = dec.Decode(&out.Groups)
		case "users":
			err = dec.Decode(&out.Users)
		default:
			var rows []Row
			err = dec.Decode(&rows)
			if err == nil {
				out.SetRows(key, rows)
			}
		}
		if err != nil {
			return formatError("%s: %v", key, err)
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	if !seenMetadata {
		return formatError("metadata section missing")
	}
	*d = out
	return nil
}
