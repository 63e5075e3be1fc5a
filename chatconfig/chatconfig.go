// Package chatconfig defines the configuration-document and chat-config
// record shapes that the external configuration loader produces and the
// snapshot builder consumes.
package chatconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ServiceEntry is one enabled service within a chat's configuration
// document.
type ServiceEntry struct {
	ServiceID string          `json:"serviceId"`
	Kind      string          `json:"kind"`
	Command   string          `json:"command,omitempty"`
	Entry     string          `json:"entry"`
	Config    json.RawMessage `json:"config,omitempty"`
	Datasets  json.RawMessage `json:"datasets,omitempty"`
	Net       []string        `json:"net,omitempty"`
}

// Document is the configuration document for one chat: an ordered list of
// enabled services. Services and Listeners may overlap — a listener kind
// folded into Services is still valid; Listeners is optional.
type Document struct {
	ConfigID  string         `json:"configId"`
	Services  []ServiceEntry `json:"services"`
	Listeners []ServiceEntry `json:"listeners,omitempty"`
}

// AllServices returns Services followed by Listeners, preserving
// declaration order — the order the snapshot builder must iterate in.
func (d Document) AllServices() []ServiceEntry {
	if len(d.Listeners) == 0 {
		return d.Services
	}
	out := make([]ServiceEntry, 0, len(d.Services)+len(d.Listeners))
	out = append(out, d.Services...)
	out = append(out, d.Listeners...)
	return out
}

// Hash computes the configHash of a configuration document's canonical
// JSON encoding.
func Hash(configJSON []byte) string {
	sum := sha256.Sum256(configJSON)
	return hex.EncodeToString(sum[:])
}

// Record is the persisted chat-config row. One row per ChatID.
type Record struct {
	ChatID     string    `json:"chatId"`
	ConfigID   string    `json:"configId"`
	ConfigJSON string    `json:"configJson"`
	ConfigHash string    `json:"configHash"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Parse decodes the record's ConfigJSON into a Document.
func (r Record) Parse() (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(r.ConfigJSON), &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}
