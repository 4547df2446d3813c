package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/spf13/cobra"

	"kvcache/internal/app"
	"kvcache/internal/cache"
)

// withApp opens the configured store for the duration of fn.
func withApp(cmd *cobra.Command, flags *rootFlags, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.Load(ctx, flags.config)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newStoreCmd(flags *rootFlags) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "store <value>",
		Short: "Store a value under a new key and print the key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseValue(kind, args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				key, err := a.Cache.Store(ctx, value)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", "text", "Value type: text, bytes, int or float")
	return cmd
}

func parseValue(kind string, raw string) (any, error) {
	switch strings.ToLower(kind) {
	case "", "text":
		return raw, nil
	case "bytes":
		return []byte(raw), nil
	case "int":
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "value is not an integer")
		}
		return value, nil
	case "float":
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "value is not a float")
		}
		return value, nil
	default:
		return nil, platformerrors.Newf(platformerrors.CodeInvalidInput, "unknown type %q", kind)
	}
}

func newRetrieveCmd(flags *rootFlags) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "retrieve <key>",
		Short: "Print the value stored under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				text, ok, err := retrieveAs(ctx, a.Cache, args[0], as)
				if err != nil {
					return err
				}
				if !ok {
					return platformerrors.Newf(platformerrors.CodeNotFound, "key %s not found", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "text", "Conversion: raw, text, int or float")
	return cmd
}

func retrieveAs(ctx context.Context, c *cache.Cache, key string, as string) (string, bool, error) {
	switch strings.ToLower(as) {
	case "raw":
		value, ok, err := c.Retrieve(ctx, key)
		return string(value), ok, err
	case "", "text":
		return c.RetrieveText(ctx, key)
	case "int":
		value, ok, err := c.RetrieveInt(ctx, key)
		return strconv.FormatInt(value, 10), ok, err
	case "float":
		value, ok, err := c.RetrieveFloat(ctx, key)
		return strconv.FormatFloat(value, 'f', -1, 64), ok, err
	default:
		return "", false, platformerrors.Newf(platformerrors.CodeInvalidInput, "unknown conversion %q", as)
	}
}

func newCallsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "calls [identity]",
		Short: "Print how many times an operation was called",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity := identityArg(args)
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				calls, err := a.Replay.Calls(ctx, identity)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), calls)
				return nil
			})
		},
	}
}

func newReplayCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "replay [identity]",
		Short: "Print the recorded call history of an operation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity := identityArg(args)
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				return a.Replay.Print(ctx, cmd.OutOrStdout(), identity)
			})
		},
	}
}

// identityArg defaults to the cache's store operation.
func identityArg(args []string) string {
	if len(args) == 0 || args[0] == "" {
		return cache.StoreIdentity
	}
	return args[0]
}

func newFetchCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <url>",
		Short: "Print the body of url, served from the cache while fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				body, err := a.Fetch.Fetch(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), body)
				return nil
			})
		},
	}
}

func newAccessCountCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "access-count <url>",
		Short: "Print how many times url was fetched",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				count, err := a.Fetch.AccessCount(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), count)
				return nil
			})
		},
	}
}

func newFlushCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Remove every key from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				return a.Store.FlushDB(ctx)
			})
		},
	}
}
