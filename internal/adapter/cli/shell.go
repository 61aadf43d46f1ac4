// Package cli is the line-oriented command front end of the mixer.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"coin-mixer/internal/core/domain"
	"coin-mixer/internal/core/ports"
	"coin-mixer/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Command names understood by the shell.
const (
	CmdAddAddress      = "add_address"
	CmdSend            = "send"
	CmdGetTransactions = "get_transactions"
	CmdHelp            = "help"
)

const (
	welcome = "Welcome to the coin mixer!\n"
	prompt  = "Please enter your command\n[blank to quit] > "
)

// HelpText lists the supported commands.
const HelpText = `
    This mixer supports the following commands:
        a) add_address address1[,address2,...]     Add addresses to the mixer and allocate a new deposit address
        b) send [sender] [receiver] [amount]       Send amount from sender to receiver, sender should be empty to mint coins
        c) get_transactions                        Get all transactions in the mixer
        d) get_transactions [address]              Get the balance and transactions of a deposit address
        e) help                                    See this help
        f) blank (enter)                           Exit from this shell
`

// Shell parses free-text commands into mixer calls and renders the results.
type Shell struct {
	mixer      ports.MixerService
	mintAmount decimal.Decimal
	log        zerolog.Logger
}

// NewShell creates a shell over mixer. mintAmount is credited by the
// two-token form of send.
func NewShell(mixer ports.MixerService, mintAmount decimal.Decimal, log zerolog.Logger) *Shell {
	return &Shell{
		mixer:      mixer,
		mintAmount: mintAmount,
		log:        log,
	}
}

// Run reads commands from in until a blank line, EOF or ctx is done, writing
// every result and error message to out. Cancelling ctx returns at once, even
// while waiting for input.
func (s *Shell) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines, readErr := readLines(ctx, in)
	fmt.Fprint(out, welcome, "\n")

	for {
		fmt.Fprint(out, prompt)

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			select {
			case err := <-readErr:
				if err != nil {
					return fmt.Errorf("reading command: %w", err)
				}
			default:
			}
			return nil
		}

		if strings.TrimSpace(line) == "" {
			return nil
		}

		result, err := s.Execute(ctx, line)
		if err != nil {
			s.log.Debug().Err(err).Str("line", line).Msg("command failed")
			fmt.Fprintf(out, "\n%s\n\n", errorText(err))
			continue
		}
		fmt.Fprintf(out, "\n%s\n\n", result)
	}
}

// readLines scans in on its own goroutine. The scan error, if any, is sent
// before lines is closed. A read blocked on in outlives ctx until in yields.
func readLines(ctx context.Context, in io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()
	return lines, readErr
}

// Execute runs a single command line and returns the text to print.
func (s *Shell) Execute(ctx context.Context, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", apperror.ErrMalformedCommand()
	}
	args := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch fields[0] {
	case CmdAddAddress:
		return s.addAddress(ctx, args)
	case CmdSend:
		return s.send(ctx, fields[1:])
	case CmdGetTransactions:
		return s.getTransactions(ctx, fields[1:])
	case CmdHelp:
		return HelpText, nil
	default:
		return "", apperror.ErrUnknownCommand(fields[0])
	}
}

func (s *Shell) addAddress(ctx context.Context, args string) (string, error) {
	var addresses []string
	for _, a := range strings.Split(strings.ReplaceAll(args, " ", ""), ",") {
		if a != "" {
			addresses = append(addresses, a)
		}
	}
	if len(addresses) == 0 {
		return "", apperror.ErrMalformedCommand()
	}

	deposit, err := s.mixer.IssueDepositAddress(ctx, addresses)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("You may now send coins to address %s. "+
		"They will be mixed and sent to your destination addresses.", deposit), nil
}

// send accepts "receiver amount", which mints the configured amount and
// ignores the given one, or "sender receiver amount".
func (s *Shell) send(ctx context.Context, args []string) (string, error) {
	var (
		req        ports.TransferRequest
		amountText string
	)
	switch len(args) {
	case 2:
		if _, err := decimal.NewFromString(args[1]); err != nil {
			return "", apperror.ErrMalformedCommand()
		}
		req = ports.TransferRequest{Sender: domain.MintedAddress, Receiver: args[0], Amount: s.mintAmount}
		amountText = s.mintAmount.String()
	case 3:
		amount, err := decimal.NewFromString(args[2])
		if err != nil {
			return "", apperror.ErrMalformedCommand()
		}
		req = ports.TransferRequest{Sender: args[0], Receiver: args[1], Amount: amount}
		amountText = args[2]
	default:
		return "", apperror.ErrMalformedCommand()
	}

	if _, err := s.mixer.ExecuteTransfer(ctx, req); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s sent from %s to %s via the mixer.", amountText, req.Sender, req.Receiver), nil
}

func (s *Shell) getTransactions(ctx context.Context, args []string) (string, error) {
	switch len(args) {
	case 0:
		txs, err := s.mixer.TransactionsFor(ctx, "")
		if err != nil {
			return "", err
		}
		return domain.FormatTransactions(txs), nil
	case 1:
		balance, err := s.mixer.BalanceOf(ctx, args[0])
		if err != nil {
			return "", err
		}
		txs, err := s.mixer.TransactionsFor(ctx, args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("balance: %s\n%s", domain.FormatAmount(balance), domain.FormatTransactions(txs)), nil
	default:
		return "", apperror.ErrMalformedCommand()
	}
}

// errorText is the user-facing rendering of err.
func errorText(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
