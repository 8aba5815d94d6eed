// Package output renders command results as tables, JSON, or YAML.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

// Formatter renders a command result for display.
type Formatter interface {
	Format(data any) string
}

// NewFormatter returns a Formatter for the given format string.
// Supported formats: "table" (default), "json", "yaml".
func NewFormatter(format string) Formatter {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{}
	case "yaml":
		return &YAMLFormatter{}
	default:
		return &TableFormatter{}
	}
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	badStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)
)

// TableFormatter renders structs and struct slices as aligned tables,
// with column headers from the field names.
type TableFormatter struct{}

func (f *TableFormatter) Format(data any) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice:
		if v.Len() == 0 {
			return dimStyle.Render("No results.") + "\n"
		}
		elem := v.Index(0)
		if elem.Kind() == reflect.Ptr {
			elem = elem.Elem()
		}
		if elem.Kind() == reflect.Struct {
			f.writeStructRows(w, v)
		} else if elem.Kind() == reflect.Map {
			f.writeMapRows(w, v)
		} else {
			for i := 0; i < v.Len(); i++ {
				fmt.Fprintln(w, v.Index(i).Interface())
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			fmt.Fprintf(w, "%s:\t%s\n",
				headerStyle.Render(t.Field(i).Name), cell(v.Field(i).Interface()))
		}
	case reflect.Map:
		keys := v.MapKeys()
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = fmt.Sprint(k.Interface())
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "%s:\t%s\n",
				headerStyle.Render(name), cell(v.MapIndex(reflect.ValueOf(name)).Interface()))
		}
	default:
		fmt.Fprintln(w, data)
	}

	w.Flush()
	return buf.String()
}

func (f *TableFormatter) writeStructRows(w *tabwriter.Writer, v reflect.Value) {
	elem := v.Index(0)
	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	t := elem.Type()

	headers := make([]string, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		headers[i] = headerStyle.Render(strings.ToUpper(t.Field(i).Name))
	}
	fmt.Fprintln(w, strings.Join(headers, "\t"))

	for i := 0; i < v.Len(); i++ {
		row := v.Index(i)
		if row.Kind() == reflect.Ptr {
			row = row.Elem()
		}
		vals := make([]string, row.NumField())
		for j := 0; j < row.NumField(); j++ {
			vals[j] = cell(row.Field(j).Interface())
		}
		fmt.Fprintln(w, strings.Join(vals, "\t"))
	}
}

// writeMapRows renders a slice of maps as a table. Columns come from
// the first row's keys, sorted.
func (f *TableFormatter) writeMapRows(w *tabwriter.Writer, v reflect.Value) {
	first := v.Index(0)
	if first.Kind() == reflect.Interface {
		first = first.Elem()
	}
	cols := make([]string, 0, first.Len())
	for _, k := range first.MapKeys() {
		cols = append(cols, fmt.Sprint(k.Interface()))
	}
	sort.Strings(cols)

	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = headerStyle.Render(strings.ToUpper(c))
	}
	fmt.Fprintln(w, strings.Join(headers, "\t"))

	for i := 0; i < v.Len(); i++ {
		row := v.Index(i)
		if row.Kind() == reflect.Interface {
			row = row.Elem()
		}
		vals := make([]string, len(cols))
		for j, c := range cols {
			mv := row.MapIndex(reflect.ValueOf(c))
			if mv.IsValid() {
				vals[j] = cell(mv.Interface())
			}
		}
		fmt.Fprintln(w, strings.Join(vals, "\t"))
	}
}

// cell renders one value, coloring connection states.
func cell(v any) string {
	s := fmt.Sprintf("%v", v)
	switch s {
	case "Connected":
		return okStyle.Render(s)
	case "Disconnected":
		return badStyle.Render(s)
	}
	return s
}

// JSONFormatter renders indented JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(data any) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("error formatting JSON: %v\n", err)
	}
	return string(b) + "\n"
}

// YAMLFormatter renders YAML.
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data any) string {
	b, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Sprintf("error formatting YAML: %v\n", err)
	}
	return string(b)
}
