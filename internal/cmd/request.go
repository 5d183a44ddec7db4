package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chrisboulton/fluxer-go"
	"github.com/chrisboulton/fluxer-go/rest"
)

func newRequestCmd(a *app) *cobra.Command {
	var (
		data        string
		query       []string
		reason      string
		files       []string
		showBuckets bool
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "request <method> <endpoint>",
		Short: "Send a rate limited REST request and print the response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &rest.Request{
				Method:   strings.ToUpper(args[0]),
				Endpoint: args[1],
				Reason:   reason,
			}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				req.Body = json.RawMessage(data)
			}
			if len(query) > 0 {
				req.Query = url.Values{}
				for _, kv := range query {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("--query %q: want key=value", kv)
					}
					req.Query.Add(k, v)
				}
			}
			for _, path := range files {
				content, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				req.Files = append(req.Files, rest.File{Name: filepath.Base(path), Data: content})
			}

			c, err := a.client(fluxer.WithoutGateway())
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			resp, err := c.REST().Do(ctx, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var pretty bytes.Buffer
			if json.Indent(&pretty, resp.Body, "", "  ") == nil {
				fmt.Fprintln(out, pretty.String())
			} else if len(resp.Body) > 0 {
				fmt.Fprintln(out, string(resp.Body))
			}
			if showBuckets {
				fmt.Fprintln(out, bucketTable(c.REST().Manager().Buckets()))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	cmd.Flags().StringArrayVarP(&query, "query", "q", nil, "query parameter as key=value")
	cmd.Flags().StringVar(&reason, "reason", "", "audit log reason")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "file to upload")
	cmd.Flags().BoolVar(&showBuckets, "buckets", false, "print rate limit bucket state after the request")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}
