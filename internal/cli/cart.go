package cli

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/storefront-cart/internal/cart"
)

type addOptions struct {
	quantity int
	name     string
	price    string
	stock    int
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	opts := &addOptions{}
	cmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := decimal.NewFromString(opts.price)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", opts.price, err)
			}
			if price.IsNegative() {
				return fmt.Errorf("price must not be negative")
			}
			product := cart.Product{ID: args[0], Name: opts.name, Price: price}
			if cmd.Flags().Changed("stock") {
				ceiling := opts.stock
				product.StockCeiling = &ceiling
			}
			return withSession(cmd.Context(), rootOpts, open, true, func(app *App) error {
				store := app.Session.Store()
				if err := store.CheckAdd(product, opts.quantity); err != nil {
					return err
				}
				if err := store.AddToCart(product, opts.quantity); err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd).cart(app.Session)
			})
		},
	}
	cmd.Flags().IntVarP(&opts.quantity, "quantity", "q", 1, "quantity to add")
	cmd.Flags().StringVar(&opts.name, "name", "", "product name")
	cmd.Flags().StringVar(&opts.price, "price", "0", "unit price")
	cmd.Flags().IntVar(&opts.stock, "stock", 0, "advisory stock ceiling")
	return cmd
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <product-id>",
		Short: "Remove a product from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), rootOpts, open, true, func(app *App) error {
				app.Session.Store().RemoveFromCart(args[0])
				return newPrinter(rootOpts, cmd).cart(app.Session)
			})
		},
	}
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "update <product-id> <quantity>",
		Short: "Set a product's quantity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q: %w", args[1], err)
			}
			return withSession(cmd.Context(), rootOpts, open, true, func(app *App) error {
				store := app.Session.Store()
				if err := store.CheckUpdate(args[0], quantity); err != nil {
					return err
				}
				store.UpdateQuantity(args[0], quantity)
				return newPrinter(rootOpts, cmd).cart(app.Session)
			})
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), rootOpts, open, true, func(app *App) error {
				if err := app.Session.ClearCart(cmd.Context()); err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd).cart(app.Session)
			})
		},
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), rootOpts, open, true, func(app *App) error {
				return newPrinter(rootOpts, cmd).cart(app.Session)
			})
		},
	}
}
