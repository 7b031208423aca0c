// Command participant contributes to or verifies the chunks of a ceremony.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v2"

	"github.com/celo-org/snark-setup-coordinator/auth"
	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/client"
	"github.com/celo-org/snark-setup-coordinator/log"
)

// Automatically set through -ldflags
// Example: go install -ldflags "-X main.version=`git describe --tags` -X main.gitCommit=`git rev-parse HEAD`"
var (
	version   = "master"
	gitCommit = "none"
	buildDate = "unknown"
)

const refreshRate = 500 * time.Millisecond

var coordinatorFlag = &cli.StringFlag{
	Name:    "coordinator-url",
	Usage:   "URL of the ceremony coordinator.",
	Value:   "http://localhost:8080",
	EnvVars: []string{"COORDINATOR_URL"},
}

var participantFlag = &cli.StringFlag{
	Name:    "participant-id",
	Usage:   "Identity to claim with the dummy strategy.",
	EnvVars: []string{"COORDINATOR_PARTICIPANT_ID"},
}

var keyFileFlag = &cli.StringFlag{
	Name:    "key-file",
	Usage:   "Key file written by keygen. Selects its strategy.",
	EnvVars: []string{"COORDINATOR_KEY_FILE"},
}

var strategyFlag = &cli.StringFlag{
	Name:    "auth",
	Usage:   "Authentication strategy of keygen: ethereum or schnorr.",
	Value:   auth.StrategyEthereum,
	EnvVars: []string{"COORDINATOR_AUTH"},
}

var outFlag = &cli.StringFlag{
	Name:  "out",
	Usage: "Path of the generated key file.",
	Value: "participant.key",
}

var commandFlag = &cli.StringFlag{
	Name:    "command",
	Usage:   "Powers of tau binary to run on each chunk.",
	Value:   "powersoftau",
	EnvVars: []string{"COORDINATOR_COMMAND"},
}

var seedFileFlag = &cli.StringFlag{
	Name:    "seed-file",
	Usage:   "Seed of the contributor's randomness.",
	EnvVars: []string{"COORDINATOR_SEED_FILE"},
}

var backoffFlag = &cli.DurationFlag{
	Name:    "backoff",
	Usage:   "Pause between two polls of the coordinator.",
	Value:   client.DefaultBackoff,
	EnvVars: []string{"COORDINATOR_BACKOFF"},
}

var ignoreShutdownFlag = &cli.BoolFlag{
	Name:  "ignore-shutdown",
	Usage: "Keep working after the coordinator raised the shutdown signal.",
}

var quietFlag = &cli.BoolFlag{
	Name:  "quiet",
	Usage: "Do not print a progress line.",
}

var verboseFlag = &cli.BoolFlag{
	Name:    "verbose",
	Usage:   "If set, verbosity is at the debug level",
	EnvVars: []string{"COORDINATOR_VERBOSE"},
}

var messageFlag = &cli.StringFlag{
	Name:     "message",
	Usage:    "Statement to sign and attach to the ceremony.",
	Required: true,
}

var identityFlags = toArray(coordinatorFlag, participantFlag, keyFileFlag)

var workFlags = append(toArray(commandFlag, backoffFlag, ignoreShutdownFlag, quietFlag), identityFlags...)

// CLI returns the participant application.
func CLI() *cli.App {
	app := cli.NewApp()
	app.Name = "participant"
	app.Version = version
	app.Usage = "ceremony participant"
	app.Flags = toArray(verboseFlag)
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Commands = []*cli.Command{
		{
			Name:   "contribute",
			Usage:  "Contribute to every chunk of the ceremony.",
			Flags:  append(toArray(seedFileFlag), workFlags...),
			Action: workAction(ceremony.Contributor),
		},
		{
			Name:   "verify",
			Usage:  "Verify the pending contributions of the ceremony.",
			Flags:  workFlags,
			Action: workAction(ceremony.Verifier),
		},
		{
			Name:   "attest",
			Usage:  "Sign a statement and attach it to the ceremony.",
			Flags:  append(toArray(messageFlag), identityFlags...),
			Action: attestAction,
		},
		{
			Name:   "unlock",
			Usage:  "Release the lock held on a chunk.",
			Flags:  identityFlags,
			Action: unlockAction,
		},
		{
			Name:   "keygen",
			Usage:  "Generate a participant key file.",
			Flags:  toArray(strategyFlag, outFlag),
			Action: keygenAction,
		},
	}
	return app
}

func main() {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("participant %v (date %v, commit %v)\n", version, buildDate, gitCommit)
	}
	if err := CLI().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "participant: %v\n", err)
		os.Exit(1)
	}
}

func toArray(flags ...cli.Flag) []cli.Flag {
	return flags
}

func logger(c *cli.Context) log.Logger {
	level := log.InfoLevel
	if c.Bool(verboseFlag.Name) {
		level = log.DebugLevel
	}
	l := log.New(os.Stderr, level, false)
	log.SetDefault(l)
	return l
}

func signer(c *cli.Context) (auth.Signer, error) {
	if c.IsSet(keyFileFlag.Name) {
		k, err := auth.LoadKeyFile(c.String(keyFileFlag.Name))
		if err != nil {
			return nil, err
		}
		return k.Signer()
	}
	if id := c.String(participantFlag.Name); id != "" {
		return auth.DummySigner{ID: id}, nil
	}
	return nil, fmt.Errorf("one of --%s or --%s is required", keyFileFlag.Name, participantFlag.Name)
}

func newClient(c *cli.Context, l log.Logger) (*client.Client, auth.Signer, error) {
	s, err := signer(c)
	if err != nil {
		return nil, nil, err
	}
	api, err := client.New(c.String(coordinatorFlag.Name), s, client.WithLogger(l))
	if err != nil {
		return nil, nil, err
	}
	return api, s, nil
}

func workAction(role ceremony.Role) cli.ActionFunc {
	return func(c *cli.Context) error {
		if role == ceremony.Contributor && c.String(seedFileFlag.Name) == "" {
			return fmt.Errorf("--%s is required to contribute", seedFileFlag.Name)
		}
		l := logger(c)
		api, s, err := newClient(c, l)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		participant := client.NewParticipant(api, role, nil, l)
		transformer := &client.ShellTransformer{
			Command:    c.String(commandFlag.Name),
			SeedFile:   c.String(seedFileFlag.Name),
			Role:       role,
			Downloader: api,
			Output:     os.Stderr,
			Log:        l,
		}
		opts := []client.WorkerOption{client.WithBackoff(c.Duration(backoffFlag.Name))}
		if !c.Bool(ignoreShutdownFlag.Name) {
			opts = append(opts, client.WithStopOnShutdown())
		}
		if !c.Bool(quietFlag.Name) {
			var status atomic.Value
			status.Store("connecting to " + c.String(coordinatorFlag.Name))
			sp := spinner.New(spinner.CharSets[9], refreshRate)
			sp.Writer = c.App.ErrWriter
			sp.PreUpdate = func(spin *spinner.Spinner) {
				spin.Suffix = "  " + status.Load().(string)
			}
			sp.Start()
			defer sp.Stop()
			opts = append(opts, client.WithProgress(func(s string) { status.Store(s) }))
		}

		err = client.NewWorker(api, participant, transformer, s, l, opts...).Run(ctx)
		if err != nil && ctx.Err() != nil {
			fmt.Fprintln(c.App.Writer, "interrupted, locked chunks will be resumed on the next run")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, "Your contribution was done, thanks for participating!")
		return nil
	}
}

func attestAction(c *cli.Context) error {
	api, _, err := newClient(c, logger(c))
	if err != nil {
		return err
	}
	added, err := api.Attest(c.Context, c.String(messageFlag.Name))
	if err != nil {
		return err
	}
	if !added {
		fmt.Fprintln(c.App.Writer, "an attestation of yours is already recorded")
		return nil
	}
	fmt.Fprintln(c.App.Writer, "attestation recorded")
	return nil
}

func unlockAction(c *cli.Context) error {
	if !c.Args().Present() {
		return errors.New("missing chunk id")
	}
	api, _, err := newClient(c, logger(c))
	if err != nil {
		return err
	}
	if err := api.Unlock(c.Context, c.Args().First()); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "chunk %s unlocked\n", c.Args().First())
	return nil
}

func keygenAction(c *cli.Context) error {
	k, err := auth.GenerateKeyFile(c.String(strategyFlag.Name))
	if err != nil {
		return err
	}
	if err := k.Save(c.String(outFlag.Name)); err != nil {
		return fmt.Errorf("saving key file: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Generated %s key at %s\n", k.Strategy, c.String(outFlag.Name))
	fmt.Fprintf(c.App.Writer, "Participant id: %s\n", k.Public)
	return nil
}
