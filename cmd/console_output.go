package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// nestedPrefix is put in front of every line logged by a build that runs inside another one.
const nestedPrefix = " .. "

var levelColors = map[string]string{
	"fatal": "[red]",
	"error": "[red]",
	"warn":  "[yellow]",
	"debug": "[blue]",
	"trace": "[blue]",
}

// ConsoleWriter renders zerolog's JSON events as colored lines for humans.
type ConsoleWriter struct {
	Out   io.Writer
	Debug bool

	buffer strings.Builder
	lock   sync.Mutex
}

func NewConsoleWriter(out io.Writer, debug bool) *ConsoleWriter {
	return &ConsoleWriter{Out: out, Debug: debug}
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	level, _ := evt["level"].(string)
	color, ok := levelColors[level]
	if !ok {
		color = "[green]"
	}
	w.buffer.WriteString(color)

	prefix := linePrefix(evt)
	msg := simplifyPath(evt)

	if stream, ok := evt["stream"].(string); ok {
		// captured process output: label the first line and indent the rest below it
		label := strings.ToUpper(stream) + ": "
		indent := "\n" + prefix + strings.Repeat(" ", len(label))
		msg = label + strings.ReplaceAll(msg, "\n", indent)
	} else if level == "error" {
		msg = "Error: " + msg
	}

	w.buffer.WriteString(prefix)
	w.buffer.WriteString(msg)

	if errorDetails, ok := evt["error"]; ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(fmt.Sprint(errorDetails))
	}

	if w.Debug {
		w.writeFields(evt)
	}

	w.buffer.WriteString("[reset]\n")
	_, err = colorstring.Fprint(w.Out, w.buffer.String())
	if err != nil {
		return 0, err
	}

	// zerolog expects the length of the event, not what we printed
	return len(p), nil
}

// linePrefix builds the indentation of an event: the mode, one marker for nested builds and
// one for command lines and their output.
func linePrefix(evt map[string]interface{}) string {
	prefix := ""
	if mode, ok := evt["mode"].(string); ok {
		prefix = mode + ": "
	}
	if isNested, _ := evt["nested"].(bool); isNested {
		prefix += nestedPrefix
	}

	isCmd, _ := evt["command"].(bool)
	if _, isOutput := evt["stream"]; isCmd || isOutput {
		prefix += nestedPrefix
	}
	return prefix
}

// simplifyPath shortens the event's path inside the message to a path relative to the
// working directory.
func simplifyPath(evt map[string]interface{}) string {
	msg, _ := evt["message"].(string)

	path, ok := evt["path"].(string)
	if ok {
		relPath, err := filepath.Rel(".", path)
		if err == nil {
			msg = strings.ReplaceAll(msg, path, relPath)
		}
	}
	return msg
}

func (w *ConsoleWriter) writeFields(evt map[string]interface{}) {
	names := make([]string, 0, len(evt))
	for name := range evt {
		names = append(names, name)
	}
	sort.Strings(names)

	w.buffer.WriteString("\n")
	for _, name := range names {
		w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, evt[name]))
	}
}
