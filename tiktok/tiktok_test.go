package tiktok

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtractHashtags(t *testing.T) {
	tests := []struct {
		name string
		desc string
		want []string
	}{
		{"empty", "", []string{}},
		{"no tags", "just a plain description", []string{}},
		{"single", "check this out #fyp", []string{"fyp"}},
		{"multiple", "#dance #music #fyp", []string{"dance", "fyp", "music"}},
		{"duplicates removed", "#fyp some text #fyp", []string{"fyp"}},
		{"casing preserved", "#GoLang and #golang", []string{"GoLang", "golang"}},
		{"mixed text", "new video!! #viral check #trending now #viral", []string{"trending", "viral"}},
		{"underscore and digits", "#tag_1 #2024", []string{"2024", "tag_1"}},
		{"hash alone ignored", "price # 100 #real", []string{"real"}},
		{"unicode letters", "#日本 #café", []string{"café", "日本"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractHashtags(tt.desc)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractHashtags(%q) = %v, want %v", tt.desc, got, tt.want)
			}
		})
	}
}

func TestExtractHashtagsOrderInsensitive(t *testing.T) {
	a := ExtractHashtags("#one #two #three")
	b := ExtractHashtags("#three some words #one more #two")
	if !reflect.DeepEqual(a, b) {
		t.Errorf("same tag set produced different results: %v vs %v", a, b)
	}
}

func TestParseBatchArray(t *testing.T) {
	in := `[
		{"id": "111", "url": "https://www.tiktok.com/@u/video/111", "description": "#fyp"},
		{"url": "https://www.tiktok.com/@u/video/222"},
		{"description": "no id or url at all"}
	]`
	items, err := ParseBatch(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseBatch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].VideoID != "111" {
		t.Errorf("items[0].VideoID = %q", items[0].VideoID)
	}
	if items[1].VideoID != "222" {
		t.Errorf("ID not recovered from URL: %q", items[1].VideoID)
	}
}

func TestParseBatchWrapped(t *testing.T) {
	in := `{"videos": [{"id": "333", "url": "https://example.com/v", "description": "#a #b"}]}`
	items, err := ParseBatch(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseBatch: %v", err)
	}
	if len(items) != 1 || items[0].VideoID != "333" {
		t.Errorf("items = %+v", items)
	}
}

func TestParseBatchInvalid(t *testing.T) {
	if _, err := ParseBatch(strings.NewReader("not json")); err == nil {
		t.Error("ParseBatch accepted garbage")
	}
}

func TestVideoIDFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.tiktok.com/@user/video/7301234567890123456", "7301234567890123456"},
		{"https://www.tiktok.com/@user/video/123?is_from_webapp=1", "123"},
		{"https://example.com/nothing", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := videoIDFromURL(tt.url); got != tt.want {
			t.Errorf("videoIDFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
