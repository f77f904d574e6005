package birthday

import (
	"testing"
	"unicode/utf8"
)

func TestExtractCandidateName(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"מזל טוב ולנה 🎂🥳🎁🎈", "ולנה"},
		{"מזל טוב לדנה!", "דנה"},
		{"המון מזל טוב חקובו!!", "חקובו"},
		{"המון מזל טוב לעידן", "עידן"},
		{"מזל  טוב   שרה", "שרה"},
		{"מזל טוב David!", "David"},
		{"יום הולדת שמח לנועה 🎈", "נועה"},
		{"Happy birthday Dana! 🎂", "Dana"},
		{"happy bday to Yossi", "Yossi"},
		{"HBD Maya", "Maya"},
		{"מזל טוב נשמה", ""},
		{"מזל טוב אחי", ""},
		{"מזל טוב לאחי", ""},
		{"מזל טוב גדול!", ""},
		{"מזל טוב לכולם", ""},
		{"Happy birthday to you", ""},
		{"מזל טוב א", ""},
		{"מזל טוב!", ""},
		{"יום הולדת שמח!", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractCandidateName(tt.text); got != tt.want {
			t.Errorf("ExtractCandidateName(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestExtractCandidateName_NeverDenied(t *testing.T) {
	terms := append([]string{"על", "בהצלחה", "זוג", "הורים"}, GenericTerms...)
	for _, term := range terms {
		for _, prefix := range []string{"מזל טוב ", "מזל טוב ל", "המון מזל טוב ", "המון מזל טוב ל"} {
			got := ExtractCandidateName(prefix + term)
			if got != "" && (isDenied(got) || utf8.RuneCountInString(got) < MinNameLength) {
				t.Errorf("ExtractCandidateName(%q) = %q, a denied or short name", prefix+term, got)
			}
			if got == term {
				t.Errorf("ExtractCandidateName(%q) returned generic term", prefix+term)
			}
		}
	}
}

func TestExtractCandidateName_OtherOccasions(t *testing.T) {
	for _, text := range []string{
		"מזל טוב על ההריון!",
		"מזל טוב על הבית החדש",
		"מזל טוב לזוג המאושר",
		"מזל טוב להורים",
		"מזל טוב בהצלחה",
		"מזל טוב לרגל הולדת הבן",
		"המון מזל טוב לחתן ולכלה",
	} {
		if got := ExtractCandidateName(text); got != "" {
			t.Errorf("ExtractCandidateName(%q) = %q, want no name", text, got)
		}
	}
}

func TestIsUsableName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"דנה", true},
		{"  דנה  ", true},
		{"David", true},
		{"נשמה", false},
		{"  נשמה  ", false},
		{"אחי", false},
		{"bro", false},
		{"א", false},
		{"", false},
		{"   ", false},
	}
	for _, tt := range tests {
		if got := IsUsableName(tt.name); got != tt.want {
			t.Errorf("IsUsableName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCleanName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"@דנה", "דנה"},
		{" \"Dana\" ", "Dana"},
		{"+972501234567", ""},
		{"0501234567", ""},
		{"יוסי", "יוסי"},
	}
	for _, tt := range tests {
		if got := CleanName(tt.raw); got != tt.want {
			t.Errorf("CleanName(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestPlausibleName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"דנה", true},
		{"Mary-Jane", true},
		{"דנה כהן", true},
		{"ז'ק", true},
		{"[name]", false},
		{"{name}", false},
		{"dana123", false},
		{"one two three four", false},
		{"נשמה", false},
	}
	for _, tt := range tests {
		if got := PlausibleName(tt.name); got != tt.want {
			t.Errorf("PlausibleName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestHasAdditionalBirthdayMarker(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"וגם מזל טוב לנועה!", true},
		{"ובנוסף יום הולדת ליוסי", true},
		{"גם היום יום הולדת לרון", true},
		{"עוד יום הולדת היום! מזל טוב לשי", true},
		{"יש לנו יום הולדת נוסף: מזל טוב לטל", true},
		{"And also happy birthday to Tom", true},
		{"another birthday today, hbd Ann", true},
		{"מזל טוב לנועה!", false},
		{"Happy birthday Tom", false},
	}
	for _, tt := range tests {
		if got := HasAdditionalBirthdayMarker(tt.text); got != tt.want {
			t.Errorf("HasAdditionalBirthdayMarker(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
