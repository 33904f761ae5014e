package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/oriys/cartsync/internal/domain"
)

// Format represents output format
type Format string

const (
	FormatTable Format = "table"
	FormatWide  Format = "wide"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON
	case "yaml", "yml":
		return FormatYAML
	case "wide":
		return FormatWide
	default:
		return FormatTable
	}
}

// Printer handles formatted output
type Printer struct {
	format  Format
	writer  io.Writer
	noColor bool
}

// NewPrinter creates a new printer
func NewPrinter(format Format) *Printer {
	return &Printer{
		format:  format,
		writer:  os.Stdout,
		noColor: os.Getenv("NO_COLOR") != "",
	}
}

// SetWriter sets the output writer
func (p *Printer) SetWriter(w io.Writer) {
	p.writer = w
}

// SetNoColor disables ANSI colors.
func (p *Printer) SetNoColor(v bool) {
	p.noColor = v
}

func (p *Printer) structured() bool {
	return p.format == FormatJSON || p.format == FormatYAML
}

// Print outputs data in the configured format
func (p *Printer) Print(data interface{}) error {
	switch p.format {
	case FormatYAML:
		return p.printYAML(data)
	default:
		return p.printJSON(data)
	}
}

func (p *Printer) printJSON(data interface{}) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// printYAML round-trips through JSON so field names match the wire shape.
func (p *Printer) printYAML(data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(p.writer)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(generic)
}

// Color codes
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
	Gray   = "\033[90m"
)

// Colorize adds color to text
func (p *Printer) Colorize(color, text string) string {
	if p.noColor {
		return text
	}
	return color + text + Reset
}

// TableWriter creates a tabwriter for aligned output
func (p *Printer) TableWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
}

// PrintCart prints a cart with its derived totals.
func (p *Printer) PrintCart(c domain.CartState) error {
	if p.structured() {
		return p.Print(domain.ViewOfCart(c))
	}
	if len(c.Items) == 0 {
		fmt.Fprintln(p.writer, "Cart is empty")
		return nil
	}

	w := p.TableWriter()
	if p.format == FormatWide {
		fmt.Fprintln(w, p.Colorize(Bold, "ID\tNAME\tPRICE\tQTY\tSUBTOTAL\tIMAGE"))
	} else {
		fmt.Fprintln(w, p.Colorize(Bold, "ID\tNAME\tPRICE\tQTY\tSUBTOTAL"))
	}
	for _, it := range c.Items {
		subtotal := it.Product.Price * float64(it.Quantity)
		if p.format == FormatWide {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%.2f\t%s\n",
				p.Colorize(Cyan, it.Product.ID), it.Product.Name, it.Product.Price, it.Quantity, subtotal, it.Product.Image)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%.2f\n",
				p.Colorize(Cyan, it.Product.ID), it.Product.Name, it.Product.Price, it.Quantity, subtotal)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(p.writer, "%s %d items, %.2f\n", p.Colorize(Bold, "Total:"), c.TotalItems(), c.TotalPrice())
	return nil
}

// PrintBookmarks prints a bookmark set.
func (p *Printer) PrintBookmarks(b domain.BookmarkState) error {
	if p.structured() {
		return p.Print(domain.ViewOfBookmarks(b))
	}
	if len(b.Products) == 0 {
		fmt.Fprintln(p.writer, "No bookmarks")
		return nil
	}

	w := p.TableWriter()
	fmt.Fprintln(w, p.Colorize(Bold, "ID\tNAME\tPRICE"))
	for _, prod := range b.Products {
		fmt.Fprintf(w, "%s\t%s\t%.2f\n", p.Colorize(Cyan, prod.ID), prod.Name, prod.Price)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(p.writer, "%s %d\n", p.Colorize(Bold, "Bookmarks:"), b.Count())
	return nil
}

// PrintSnapshot prints both entities.
func (p *Printer) PrintSnapshot(s domain.Snapshot) error {
	if p.structured() {
		return p.Print(s.View())
	}
	fmt.Fprintln(p.writer, p.Colorize(Bold, "Cart"))
	if err := p.PrintCart(s.Cart); err != nil {
		return err
	}
	fmt.Fprintln(p.writer)
	fmt.Fprintln(p.writer, p.Colorize(Bold, "Bookmarks"))
	return p.PrintBookmarks(s.Bookmarks)
}

// PrintQueue prints pending offline operations in replay order.
func (p *Printer) PrintQueue(ops []domain.Operation) error {
	if p.structured() {
		if ops == nil {
			ops = []domain.Operation{}
		}
		return p.Print(ops)
	}
	if len(ops) == 0 {
		fmt.Fprintln(p.writer, "Offline queue is empty")
		return nil
	}

	w := p.TableWriter()
	if p.format == FormatWide {
		fmt.Fprintln(w, p.Colorize(Bold, "ID\tENTITY\tKIND\tPRODUCT\tQTY\tATTEMPTS\tCREATED"))
	} else {
		fmt.Fprintln(w, p.Colorize(Bold, "ENTITY\tKIND\tPRODUCT\tQTY\tATTEMPTS"))
	}
	for _, op := range ops {
		ref := op.ProductRef()
		if ref == "" {
			ref = "-"
		}
		attempts := fmt.Sprintf("%d", op.AttemptCount)
		if op.AttemptCount > 0 {
			attempts = p.Colorize(Yellow, attempts)
		}
		if p.format == FormatWide {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				op.ID, op.Entity, op.Kind, ref, op.Payload.Quantity, attempts, op.CreatedAt.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", op.Entity, op.Kind, ref, op.Payload.Quantity, attempts)
		}
	}
	return w.Flush()
}

// SessionInfo describes the engine session.
type SessionInfo struct {
	Kind      string `json:"kind"`
	ID        string `json:"id"`
	Partition string `json:"partition"`
	Online    bool   `json:"online"`
	Queued    int    `json:"queued"`
}

// PrintSession prints the session identity.
func (p *Printer) PrintSession(info SessionInfo) error {
	if p.structured() {
		return p.Print(info)
	}
	fmt.Fprintf(p.writer, "%s %s\n", p.Colorize(Bold, "Session:"), p.Colorize(Cyan, info.ID))
	fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Kind:"), info.Kind)
	fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Partition:"), info.Partition)
	if info.Online {
		fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Online:"), p.Colorize(Green, "yes"))
	} else {
		fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Online:"), p.Colorize(Yellow, "no"))
	}
	fmt.Fprintf(p.writer, "  %s %d\n", p.Colorize(Gray, "Queued:"), info.Queued)
	return nil
}

// Success prints a success message
func (p *Printer) Success(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Green, "✓ ")+msg)
}

// Error prints an error message
func (p *Printer) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Red, "✗ ")+msg)
}

// Warning prints a warning message
func (p *Printer) Warning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Yellow, "⚠ ")+msg)
}

// Info prints an info message
func (p *Printer) Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Blue, "ℹ ")+msg)
}
