package settings

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/starford/preambled/internal/models"
)

// ImportLegacy converts a plugin data blob into path-keyed settings.
//
// Older blobs register preambles by synthetic id and bind folders by
// preambleId under the key "folderPreambes"; newer blobs already use paths.
// Both shapes may appear nested under a top-level "preambles" object next to
// unrelated plugin settings. Bindings to unknown ids are dropped.
func ImportLegacy(data []byte) (models.Settings, error) {
	if !gjson.ValidBytes(data) {
		return models.Settings{}, fmt.Errorf("settings: import: invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if nested := root.Get("preambles"); nested.IsObject() {
		root = nested
	}

	out := models.Settings{
		Preambles:       []models.PreambleRef{},
		FolderPreambles: []models.FolderBinding{},
	}
	byID := make(map[string]string)
	for _, p := range root.Get("preambles").Array() {
		path := strings.TrimSpace(p.Get("path").String())
		if path == "" {
			continue
		}
		if id := p.Get("id").String(); id != "" {
			byID[id] = path
		}
		out.Preambles = append(out.Preambles, models.PreambleRef{Path: path})
	}

	bindings := root.Get("folderPreambles")
	if !bindings.Exists() {
		bindings = root.Get("folderPreambes")
	}
	for _, b := range bindings.Array() {
		folder := b.Get("folderPath").String()
		target := b.Get("preamblePath").String()
		if target == "" {
			target = byID[b.Get("preambleId").String()]
		}
		if target == "" {
			continue
		}
		out.FolderPreambles = append(out.FolderPreambles, models.FolderBinding{FolderPath: folder, PreamblePath: target})
	}
	return out, nil
}
