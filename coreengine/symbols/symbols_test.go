package symbols

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func symbolNames(info *FileInfo) map[string]Symbol {
	out := make(map[string]Symbol, len(info.Symbols))
	for _, s := range info.Symbols {
		out[s.Name] = s
	}
	return out
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "go", DetectLanguage("pkg/server.go"))
	assert.Equal(t, "python", DetectLanguage("src/auth/login.py"))
	assert.Equal(t, "python", DetectLanguage("src/auth/login.pyi"))
	assert.Equal(t, "javascript", DetectLanguage("web/app.tsx"))
	assert.Equal(t, "", DetectLanguage("README.md"))
}

func TestExtractGo(t *testing.T) {
	source := []byte(`package auth

import (
	"fmt"
	"net/http"
)

type Session struct {
	User string
}

func Login(user string) (*Session, error) {
	return &Session{User: user}, nil
}

func (s *Session) Refresh() {
	fmt.Println("refreshed")
}
`)

	info, err := Extract(context.Background(), "auth/session.go", source)
	require.NoError(t, err)
	assert.Equal(t, "go", info.Language)

	syms := symbolNames(info)
	require.Contains(t, syms, "Login")
	assert.Equal(t, "function", syms["Login"].Kind)
	assert.Equal(t, 12, syms["Login"].LineStart)

	require.Contains(t, syms, "Refresh")
	assert.Equal(t, "method", syms["Refresh"].Kind)

	require.Contains(t, syms, "Session")
	assert.Equal(t, "type", syms["Session"].Kind)

	assert.Contains(t, info.Imports, "fmt")
	assert.Contains(t, info.Imports, "net/http")
}

func TestExtractPython(t *testing.T) {
	source := []byte(`import os
from auth import session

class LoginManager:
    def login(self, user):
        return session.create(user)

def logout(user):
    pass
`)

	info, err := Extract(context.Background(), "src/auth/login.py", source)
	require.NoError(t, err)
	assert.Equal(t, "python", info.Language)

	syms := symbolNames(info)
	require.Contains(t, syms, "LoginManager")
	assert.Equal(t, "class", syms["LoginManager"].Kind)

	require.Contains(t, syms, "login")
	assert.Equal(t, 5, syms["login"].LineStart)

	require.Contains(t, syms, "logout")
	assert.Equal(t, 8, syms["logout"].LineStart)

	assert.Contains(t, info.Imports, "os")
	assert.Contains(t, info.Imports, "auth")
}

func TestExtractJavaScript(t *testing.T) {
	source := []byte(`import { api } from "./api";

class Widget {
  render() {}
}

function mount(el) {}
`)

	info, err := Extract(context.Background(), "web/widget.js", source)
	require.NoError(t, err)

	syms := symbolNames(info)
	require.Contains(t, syms, "Widget")
	assert.Equal(t, "class", syms["Widget"].Kind)
	require.Contains(t, syms, "mount")
	require.Contains(t, syms, "render")
	assert.Equal(t, "method", syms["render"].Kind)

	assert.Contains(t, info.Imports, "./api")
}

func TestExtractUnknownLanguage(t *testing.T) {
	info, err := Extract(context.Background(), "README.md", []byte("# hello"))
	require.NoError(t, err)
	assert.Empty(t, info.Symbols)
	assert.Empty(t, info.Imports)
	assert.Equal(t, "", info.Language)
}
