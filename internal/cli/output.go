package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/internal/storefront"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
)

// Exit codes for cartctl.
const (
	ExitSuccess = 0
	ExitFailure = 1 // dependency or internal failure
	ExitUsage   = 2 // rejected input or an illegal session transition
)

// ExitCode maps a command error onto a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	for _, code := range []pkgerrors.Code{
		pkgerrors.CodeValidation,
		pkgerrors.CodeUnauthorized,
		pkgerrors.CodeConflict,
		pkgerrors.CodeStateConflict,
	} {
		if pkgerrors.IsCode(err, code) {
			return ExitUsage
		}
	}
	return ExitFailure
}

// cartView is the json output of every cart command.
type cartView struct {
	State         string        `json:"state"`
	UserID        string        `json:"userId,omitempty"`
	Lines         cart.Snapshot `json:"lines"`
	TotalQuantity int           `json:"totalQuantity"`
	Subtotal      string        `json:"subtotal"`
}

type printer struct {
	format string
	out    io.Writer
	errOut io.Writer
}

func newPrinter(opts *RootOptions, cmd *cobra.Command) *printer {
	return &printer{format: opts.Format, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
}

// note prints a status line; in json mode it goes to stderr so stdout stays parseable.
func (p *printer) note(format string, args ...any) {
	w := p.out
	if p.format == "json" {
		w = p.errOut
	}
	fmt.Fprintf(w, format+"\n", args...)
}

func (p *printer) cart(session *storefront.Session) error {
	snapshot := session.Store().Snapshot()
	view := cartView{
		State:         string(session.State()),
		Lines:         snapshot,
		TotalQuantity: snapshot.TotalQuantity(),
		Subtotal:      snapshot.Subtotal().StringFixed(2),
	}
	if identity, ok := session.Identity(); ok {
		view.UserID = identity.UserID
	}

	if p.format == "json" {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	header := view.State
	if view.UserID != "" {
		header += " (" + view.UserID + ")"
	}
	fmt.Fprintln(p.out, header)
	if len(snapshot) == 0 {
		fmt.Fprintln(p.out, "cart is empty")
		return nil
	}
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tNAME\tQTY\tUNIT\tSUBTOTAL")
	for _, line := range snapshot {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			line.ProductID, line.Name, line.Quantity, line.UnitPrice.StringFixed(2), line.Subtotal().StringFixed(2))
	}
	fmt.Fprintf(tw, "\t\t%d\t\t%s\n", view.TotalQuantity, view.Subtotal)
	return tw.Flush()
}
