package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/oriys/cartsync/internal/domain"
	"github.com/oriys/cartsync/internal/engine"
	"github.com/oriys/cartsync/internal/output"
)

type productFlags struct {
	name  string
	price float64
	image string
}

func (f *productFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Product name")
	cmd.Flags().Float64Var(&f.price, "price", 0, "Unit price")
	cmd.Flags().StringVar(&f.image, "image", "", "Product image URL")
}

func (f *productFlags) product(id string) (domain.Product, error) {
	p := domain.Product{ID: id, Name: f.name, Price: f.price, Image: f.image}
	if p.Name == "" {
		p.Name = id
	}
	return p, domain.ValidateProduct(p)
}

func cartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Show or change the cart",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(_ context.Context, e *engine.Engine, p *output.Printer) error {
				return p.PrintCart(e.Store().Cart())
			})
		},
	}
	cmd.AddCommand(cartAddCmd(), cartRemoveCmd(), cartSetCmd(), cartClearCmd())
	return cmd
}

func cartAddCmd() *cobra.Command {
	var (
		pf  productFlags
		qty int
	)
	cmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prod, err := pf.product(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(_ context.Context, e *engine.Engine, p *output.Printer) error {
				e.Store().AddItem(prod, qty)
				return p.PrintCart(e.Store().Cart())
			})
		},
	}
	pf.register(cmd)
	cmd.Flags().IntVarP(&qty, "quantity", "q", 1, "Quantity to add")
	return cmd
}

func cartRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <product-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a product from the cart",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(_ context.Context, e *engine.Engine, p *output.Printer) error {
				e.Store().RemoveItem(args[0])
				return p.PrintCart(e.Store().Cart())
			})
		},
	}
}

func cartSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <product-id> <quantity>",
		Short: "Set the quantity of a cart item (0 removes it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q: %w", args[1], err)
			}
			return withEngine(cmd, func(_ context.Context, e *engine.Engine, p *output.Printer) error {
				if e.Store().Cart().Find(args[0]) < 0 {
					p.Warning("%s is not in the cart", args[0])
				}
				e.Store().UpdateQuantity(args[0], qty)
				return p.PrintCart(e.Store().Cart())
			})
		},
	}
}

func cartClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(_ context.Context, e *engine.Engine, p *output.Printer) error {
				e.Store().Clear()
				p.Success("Cart cleared")
				return nil
			})
		},
	}
}

func bookmarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "bookmarks",
		Aliases: []string{"bookmark", "bm"},
		Short:   "Show or change bookmarks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(_ context.Context, e *engine.Engine, p *output.Printer) error {
				return p.PrintBookmarks(e.Store().Bookmarks())
			})
		},
	}
	cmd.AddCommand(bookmarkToggleCmd(), bookmarkClearCmd())
	return cmd
}

func bookmarkToggleCmd() *cobra.Command {
	var pf productFlags
	cmd := &cobra.Command{
		Use:   "toggle <product-id>",
		Short: "Bookmark a product, or remove it when already bookmarked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prod, err := pf.product(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(_ context.Context, e *engine.Engine, p *output.Printer) error {
				e.Store().ToggleBookmark(prod)
				if e.Store().IsBookmarked(prod.ID) {
					p.Success("Bookmarked %s", prod.ID)
				} else {
					p.Success("Removed bookmark %s", prod.ID)
				}
				return nil
			})
		},
	}
	pf.register(cmd)
	return cmd
}

func bookmarkClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every bookmark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(_ context.Context, e *engine.Engine, p *output.Printer) error {
				e.Store().ClearBookmarks()
				p.Success("Bookmarks cleared")
				return nil
			})
		},
	}
}
