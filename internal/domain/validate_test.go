package domain

import (
	"errors"
	"testing"
)

func TestNormalizePathPrefix(t *testing.T) {
	tests := []struct {
		prefix  string
		want    string
		wantErr bool
	}{
		{"", "/", false},
		{"/", "/", false},
		{"/foo/", "/foo/", false},
		{"/foo/bar/", "/foo/bar/", false},
		{"/foo", "", true},
		{"foo/", "", true},
		{"//", "", true},
		{"/foo//bar/", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizePathPrefix(tt.prefix)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizePathPrefix(%q) error = %v, wantErr %v", tt.prefix, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidInput) {
			t.Errorf("NormalizePathPrefix(%q) error = %v, want ErrInvalidInput", tt.prefix, err)
		}
		if got != tt.want {
			t.Errorf("NormalizePathPrefix(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestValidateK8sName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"bkapp-app1-stag", false},
		{"a1", false},
		{"A1", true},
		{"-abc", true},
		{"abc-", true},
		{"a", true},
	}
	for _, tt := range tests {
		err := ValidateK8sName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateK8sName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestValidateProcessType(t *testing.T) {
	tests := []struct {
		procType string
		wantErr  bool
	}{
		{"web", false},
		{"w", false},
		{"1worker", false},
		{"celery-beat", false},
		{"worker-longname", true},
		{"Web_1", true},
		{"-web", true},
		{"", true},
	}
	for _, tt := range tests {
		err := ValidateProcessType(tt.procType)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateProcessType(%q) error = %v, wantErr %v", tt.procType, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ValidateProcessType(%q) error = %v, want ErrInvalidInput", tt.procType, err)
		}
	}
}

func TestValidateProcfile(t *testing.T) {
	tests := []struct {
		name     string
		procfile map[string]string
		wantErr  error
	}{
		{"ok", map[string]string{"web": "start web", "worker": "celery"}, nil},
		{"empty", nil, ErrEmptyProcfile},
		{"bad type", map[string]string{"Web_1": "start"}, ErrInvalidInput},
		{"blank command", map[string]string{"web": "  "}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProcfile(tt.procfile)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateWlAppName(t *testing.T) {
	tests := []struct {
		code, module, env string
		want              string
	}{
		{"app1", "default", "stag", "bkapp-app1-stag"},
		{"app1", "", "prod", "bkapp-app1-prod"},
		{"app1", "api", "prod", "bkapp-app1-m-api-prod"},
		{"my_app", "default", "stag", "bkapp-my0us0app-stag"},
	}
	for _, tt := range tests {
		if got := GenerateWlAppName(tt.code, tt.module, tt.env); got != tt.want {
			t.Errorf("GenerateWlAppName(%q, %q, %q) = %q, want %q", tt.code, tt.module, tt.env, got, tt.want)
		}
	}
}
