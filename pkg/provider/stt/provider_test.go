package stt_test

import (
	"testing"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

func TestNormalizeLanguage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain code", in: "en", want: "en"},
		{name: "region dropped", in: "EN-us", want: "en"},
		{name: "underscore separator", in: " pt_BR", want: "pt"},
		{name: "empty", in: "", want: ""},
		{name: "undetermined", in: "und", want: ""},
		{name: "auto passes through", in: "auto", want: "auto"},
		{name: "english name", in: "Spanish", want: "es"},
		{name: "three letter code", in: "yue", want: "yue"},
		{name: "deprecated hebrew", in: "iw", want: "he"},
		{name: "current hebrew", in: "he-IL", want: "he"},
		{name: "traditional chinese", in: "zh-Hant-TW", want: "zh-Hant"},
		{name: "simplified chinese", in: "zh-hans", want: "zh-Hans"},
		{name: "chinese without script", in: "zh-CN", want: "zh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := stt.NormalizeLanguage(tt.in); got != tt.want {
				t.Errorf("NormalizeLanguage(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeLanguage_Equivalence(t *testing.T) {
	t.Parallel()
	if stt.NormalizeLanguage("zh-Hant") == stt.NormalizeLanguage("zh-Hans") {
		t.Error("traditional and simplified chinese must stay distinct")
	}
	if stt.NormalizeLanguage("iw") != stt.NormalizeLanguage("he") {
		t.Error("iw and he must compare equal")
	}
}
