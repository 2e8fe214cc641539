package cli

import (
    "errors"
    "fmt"
    "io"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-su/pkg/bootstrap"
    "github.com/amirimatin/go-su/pkg/hashchain"
    "github.com/amirimatin/go-su/pkg/scheduler"
)

func newClient(cfg bootstrap.Config) (*scheduler.Client, error) {
    opts, err := bootstrap.SchedulerOptions(cfg, bootstrap.Logger(cfg))
    if err != nil { return nil, err }
    return scheduler.New(opts)
}

// NewProcessCmd returns the "process" command.
func NewProcessCmd() *cobra.Command {
    var cf configFlags
    cmd := &cobra.Command{
        Use:   "process <processId>",
        Short: "Print a process's metadata as JSON",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := cf.load(cmd.Flags())
            if err != nil { return err }
            c, err := newClient(cfg)
            if err != nil { return err }
            p, err := c.LoadProcess(cmd.Context(), cfg.SchedulerURL, args[0])
            if err != nil { return err }
            return writeJSON(cmd.OutOrStdout(), p)
        },
    }
    cf.register(cmd.Flags())
    return cmd
}

// NewTimestampCmd returns the "timestamp" command.
func NewTimestampCmd() *cobra.Command {
    var cf configFlags
    cmd := &cobra.Command{
        Use:   "timestamp <processId>",
        Short: "Print the SU clock for a process",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := cf.load(cmd.Flags())
            if err != nil { return err }
            c, err := newClient(cfg)
            if err != nil { return err }
            ts, err := c.LoadTimestamp(cmd.Context(), cfg.SchedulerURL, args[0])
            if err != nil { return err }
            return writeJSON(cmd.OutOrStdout(), ts)
        },
    }
    cf.register(cmd.Flags())
    return cmd
}

// NewMetaCmd returns the "meta" command.
func NewMetaCmd() *cobra.Command {
    var cf configFlags
    cmd := &cobra.Command{
        Use:   "meta <processId> <messageTxId>",
        Short: "Locate a message in a process's sequence",
        Args:  cobra.ExactArgs(2),
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := cf.load(cmd.Flags())
            if err != nil { return err }
            c, err := newClient(cfg)
            if err != nil { return err }
            m, err := c.LoadMessageMeta(cmd.Context(), cfg.SchedulerURL, args[0], args[1])
            if err != nil { return err }
            return writeJSON(cmd.OutOrStdout(), m)
        },
    }
    cf.register(cmd.Flags())
    return cmd
}

// NewMessagesCmd returns the "messages" command, which streams scheduled
// messages as JSON lines.
func NewMessagesCmd() *cobra.Command {
    var (
        cf                 configFlags
        from, to           string
        limit              int
        prevID, prevChain  string
    )
    cmd := &cobra.Command{
        Use:   "messages <processId>",
        Short: "Stream a process's scheduled messages as JSON lines",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := cf.load(cmd.Flags())
            if err != nil { return err }
            c, err := newClient(cfg)
            if err != nil { return err }
            var prev *hashchain.Prev
            if prevID != "" || prevChain != "" { prev = &hashchain.Prev{ID: prevID, HashChain: prevChain} }
            s := c.LoadMessages(scheduler.LoadMessagesArgs{
                SuURL:          cfg.SchedulerURL,
                ProcessID:      args[0],
                From:           from,
                To:             to,
                PageSize:       cfg.PageSize,
                PrevAssignment: prev,
            })
            defer s.Close()
            out := cmd.OutOrStdout()
            enc := json.NewEncoder(out)
            for n := 0; limit <= 0 || n < limit; n++ {
                m, err := s.Next(cmd.Context())
                if errors.Is(err, io.EOF) { break }
                if err != nil { return fmt.Errorf("after %d messages: %w", n, err) }
                if err := enc.Encode(m); err != nil { return err }
            }
            return nil
        },
    }
    cf.register(cmd.Flags())
    cmd.Flags().StringVar(&from, "from", "", "start after this cursor")
    cmd.Flags().StringVar(&to, "to", "", "stop at this cursor")
    cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many messages (0 for all)")
    cmd.Flags().StringVar(&prevID, "prev-id", "", "assignment id preceding --from, for hash-chain verification")
    cmd.Flags().StringVar(&prevChain, "prev-hash-chain", "", "hash chain of the assignment preceding --from")
    return cmd
}
