package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/modelgate/modelgate/helper/testlog"
)

func testInteractionLog(t *testing.T) (*InteractionLog, string) {
	t.Helper()
	dir := t.TempDir()
	il, err := NewInteractionLog(dir, testlog.HCLogger(t))
	must.NoError(t, err)
	return il, dir
}

func TestInteractionLog_Write(t *testing.T) {
	il, dir := testInteractionLog(t)

	il.Request([]byte(`{"model":"gpt-4o"}`))
	il.Response(`{"choices":[]}`)

	data, err := os.ReadFile(filepath.Join(dir, interactionLogName))
	must.NoError(t, err)

	content := string(data)
	must.StrContains(t, content, "REQUEST")
	must.StrContains(t, content, `{"model":"gpt-4o"}`)
	must.StrContains(t, content, interactionRequestSep)
	must.StrContains(t, content, "RESPONSE")
	must.StrContains(t, content, interactionResponseSep)
}

func TestInteractionLog_Rotation(t *testing.T) {
	il, dir := testInteractionLog(t)
	path := filepath.Join(dir, interactionLogName)

	// fill the active file past the rotation threshold
	big := strings.Repeat("x", interactionLogMaxSize)
	must.NoError(t, os.WriteFile(path, []byte(big), 0o644))

	il.Request([]byte("first after rotation"))

	// prior content moved to .1, new write landed in a fresh file
	rotated, err := os.ReadFile(path + ".1")
	must.NoError(t, err)
	must.Eq(t, interactionLogMaxSize, len(rotated))

	active, err := os.ReadFile(path)
	must.NoError(t, err)
	must.StrContains(t, string(active), "first after rotation")
}

func TestInteractionLog_RotationShiftsBackups(t *testing.T) {
	il, dir := testInteractionLog(t)
	path := filepath.Join(dir, interactionLogName)

	must.NoError(t, os.WriteFile(path+".1", []byte("was one"), 0o644))
	must.NoError(t, os.WriteFile(path+".2", []byte("was two"), 0o644))
	must.NoError(t, os.WriteFile(path+".10", []byte("was ten"), 0o644))

	big := strings.Repeat("x", interactionLogMaxSize)
	must.NoError(t, os.WriteFile(path, []byte(big), 0o644))
	il.Request([]byte("trigger"))

	// .10 dropped, .2 -> .3, .1 -> .2, active -> .1
	_, err := os.Stat(path + ".11")
	must.Error(t, err)

	got, err := os.ReadFile(path + ".3")
	must.NoError(t, err)
	must.Eq(t, "was two", string(got))

	got, err = os.ReadFile(path + ".2")
	must.NoError(t, err)
	must.Eq(t, "was one", string(got))

	got, err = os.ReadFile(path + ".1")
	must.NoError(t, err)
	must.Eq(t, interactionLogMaxSize, len(got))
}
