package models

import (
	"sort"

	"github.com/Bafix001/zibridge/pkg/hashing"
)

// Link is a directed relationship from an entity to a target of ToType.
type Link struct {
	ToType string `json:"to_type"`
	ToID   string `json:"to_id"`
	Role   string `json:"role,omitempty"`
}

// Token is the canonical "type:id" form of the link target.
func (l Link) Token() string {
	return hashing.Token(l.ToType, l.ToID)
}

// Entity is the connector-neutral shape of a record.
type Entity struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	Links      []Link         `json:"links,omitempty"`
}

// Key is the inventory key "type/id".
func (e Entity) Key() string {
	return e.Type + "/" + e.ID
}

// LinkTokens returns the sorted, de-duplicated link tokens.
func (e Entity) LinkTokens() []string {
	tokens := make([]string, 0, len(e.Links))
	for _, l := range e.Links {
		if l.ToType == "" || l.ToID == "" {
			continue
		}
		tokens = append(tokens, l.Token())
	}
	return hashing.NormalizeLinks(tokens)
}

// LinksFromTokens rebuilds role-less links from tokens.
func LinksFromTokens(tokens []string) []Link {
	links := make([]Link, 0, len(tokens))
	for _, t := range tokens {
		typ, id, ok := hashing.SplitToken(t)
		if !ok {
			continue
		}
		links = append(links, Link{ToType: typ, ToID: id})
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].ToType != links[j].ToType {
			return links[i].ToType < links[j].ToType
		}
		return links[i].ToID < links[j].ToID
	})
	return links
}
