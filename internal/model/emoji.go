package model

import (
	"errors"
	"fmt"
	"strings"
)

const aliasPrefix = "alias:"

var (
	ErrUnknownEmoji = errors.New("emoji not found in directory")
	ErrCyclicAlias  = errors.New("cyclic emoji alias")
)

// EmojiListEntry is one row of the workspace emoji directory. URL is either an
// image URL or "alias:<name>".
type EmojiListEntry struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	UploadedBy string `json:"uploaded_by,omitempty"`
}

// EmojiInfo is a resolved emoji. For aliases, ImageURL is the image of the
// emoji at the end of the alias chain and AliasOf points at the target.
type EmojiInfo struct {
	Name     string     `json:"name"`
	ImageURL string     `json:"image_url"`
	Author   string     `json:"author,omitempty"`
	AliasOf  *EmojiInfo `json:"alias_of,omitempty"`
}

func (e EmojiInfo) IsAlias() bool { return e.AliasOf != nil }

func (e EmojiInfo) String() string { return ":" + e.Name + ":" }

// EmojiKey is a comparable identity for an EmojiInfo.
type EmojiKey struct {
	Name     string
	ImageURL string
	Author   string
	AliasOf  string
}

func (e EmojiInfo) Key() EmojiKey {
	k := EmojiKey{Name: e.Name, ImageURL: e.ImageURL, Author: e.Author}
	if e.AliasOf != nil {
		k.AliasOf = e.AliasOf.Name
	}
	return k
}

type aliasLink struct {
	name   string
	url    string
	author string
}

// ResolveEmoji builds the EmojiInfo for name from directory, following
// "alias:" chains. url is the value reported by the event; when empty the
// directory entry is used. The named emoji itself may be missing from the
// directory (the listing can lag the event), alias targets may not.
func ResolveEmoji(name, url string, directory map[string]EmojiListEntry) (EmojiInfo, error) {
	var chain []aliasLink
	visited := make(map[string]bool)

	current, currentURL := name, url
	for {
		if visited[current] {
			return EmojiInfo{}, fmt.Errorf("%w: %s", ErrCyclicAlias, chainString(chain, current))
		}
		visited[current] = true

		entry, ok := directory[current]
		if currentURL == "" {
			if !ok {
				return EmojiInfo{}, fmt.Errorf("%w: %q", ErrUnknownEmoji, current)
			}
			currentURL = entry.URL
		}
		chain = append(chain, aliasLink{name: current, url: currentURL, author: entry.UploadedBy})

		target, isAlias := strings.CutPrefix(currentURL, aliasPrefix)
		if !isAlias {
			break
		}
		current, currentURL = target, ""
	}

	var resolved *EmojiInfo
	for i := len(chain) - 1; i >= 0; i-- {
		link := chain[i]
		info := EmojiInfo{Name: link.name, ImageURL: link.url, Author: link.author}
		if resolved != nil {
			info.AliasOf = resolved
			info.ImageURL = resolved.ImageURL
		}
		resolved = &info
	}
	return *resolved, nil
}

func chainString(chain []aliasLink, last string) string {
	names := make([]string, 0, len(chain)+1)
	for _, l := range chain {
		names = append(names, l.name)
	}
	return strings.Join(append(names, last), " -> ")
}
