package ui

import "testing"

func TestInitThemeSwitchesPalette(t *testing.T) {
	InitTheme("dark")
	if GetCurrentTheme() != ThemeDark {
		t.Fatalf("theme = %v, want dark", GetCurrentTheme())
	}
	darkBg := ColorBg

	InitTheme("light")
	if GetCurrentTheme() != ThemeLight {
		t.Fatalf("theme = %v, want light", GetCurrentTheme())
	}
	if ColorBg == darkBg {
		t.Fatal("light theme kept the dark background")
	}

	// Unknown names fall back to dark.
	InitTheme("mystery")
	if GetCurrentTheme() != ThemeDark {
		t.Fatalf("theme = %v, want dark fallback", GetCurrentTheme())
	}
}

func TestMenuKeyRendersBothParts(t *testing.T) {
	InitTheme("dark")
	out := MenuKey("^C", "Quit")
	if out == "" {
		t.Fatal("MenuKey returned empty string")
	}
}
