package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// OutputFormatter renders a command's result as either human-readable
// text (the default) or a single-line JSON envelope, selected by the
// root --format flag.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the JSON envelope written when --format=json.
type CLIResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  *CLIError   `json:"error,omitempty"`
}

type CLIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newFormatter(rootOpts *RootOptions, w io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: rootOpts.Format, Writer: w}
}

// Success writes data as the configured format's success response. In
// text mode, data is expected to already be a human-readable string.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}
