package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cabewaldrop/pagedb/internal/storage"
	"github.com/cabewaldrop/pagedb/internal/table"
)

const prompt = "db > "

// metaCommands are special commands starting with '.'
var metaCommands = []struct{ name, desc string }{
	{".help", "Show this help message"},
	{".exit", "Flush the database and exit"},
	{".btree", "Print the B-tree"},
	{".constants", "Print the page layout constants"},
}

var (
	errSyntax              = errors.New("syntax error")
	errUnrecognizedKeyword = errors.New("unrecognized keyword")
)

type statementType int

const (
	statementInsert statementType = iota
	statementSelect
)

type statement struct {
	typ statementType
	row table.Row
}

// repl reads statements from in and writes results to out until EOF or .exit.
type repl struct {
	tbl    *table.Table
	in     *bufio.Reader
	out    io.Writer
	styles styles
}

func newREPL(tbl *table.Table, in io.Reader, out io.Writer) *repl {
	return &repl{
		tbl:    tbl,
		in:     bufio.NewReader(in),
		out:    out,
		styles: newStyles(out),
	}
}

// run returns nil on .exit or end of input. Any other error is fatal: the
// caller closes the table and exits non-zero.
func (r *repl) run() error {
	for {
		fmt.Fprint(r.out, prompt)

		line, err := r.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading input: %w", err)
		}
		eof := err != nil

		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "."):
			exit, err := r.doMetaCommand(line)
			if err != nil || exit {
				return err
			}
		default:
			if err := r.doStatement(line); err != nil {
				return err
			}
		}

		if eof {
			fmt.Fprintln(r.out)
			return nil
		}
	}
}

// doMetaCommand runs a dot command and reports whether the REPL should exit.
func (r *repl) doMetaCommand(line string) (bool, error) {
	switch line {
	case ".exit":
		return true, nil

	case ".help":
		fmt.Fprintln(r.out, r.styles.heading.Render("Commands:"))
		for _, c := range metaCommands {
			fmt.Fprintf(r.out, "  %-12s %s\n", c.name, c.desc)
		}
		fmt.Fprintf(r.out, "  %-12s %s\n", "insert", "insert <id> <username> <email>")
		fmt.Fprintf(r.out, "  %-12s %s\n", "select", "print every row in id order")

	case ".btree":
		info, err := r.tbl.Describe()
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, r.styles.heading.Render("Tree:"))
		fmt.Fprint(r.out, r.styles.tree(info))

	case ".constants":
		fmt.Fprintln(r.out, r.styles.heading.Render("Constants:"))
		fmt.Fprint(r.out, r.styles.constants(r.tbl.Layout().Constants()))

	default:
		fmt.Fprintf(r.out, "Unrecognized command '%s'\n", line)
	}
	return false, nil
}

// doStatement prepares and executes one statement. Statement-level failures
// are reported to the user; only fatal engine errors are returned.
func (r *repl) doStatement(line string) error {
	stmt, err := prepareStatement(line)
	switch {
	case errors.Is(err, table.ErrStringTooLong):
		fmt.Fprintln(r.out, "String is too long.")
		return nil
	case errors.Is(err, table.ErrNegativeID):
		fmt.Fprintln(r.out, "ID must be positive.")
		return nil
	case errors.Is(err, errUnrecognizedKeyword):
		fmt.Fprintf(r.out, "Unrecognized keyword at start of '%s'.\n", line)
		return nil
	case err != nil:
		fmt.Fprintln(r.out, "Syntax error. Could not parse statement.")
		return nil
	}

	err = r.execute(stmt)
	switch {
	case err == nil:
		fmt.Fprintln(r.out, "Executed.")
	case errors.Is(err, storage.ErrDuplicateKey):
		fmt.Fprintln(r.out, r.styles.err.Render("Error: Duplicate key."))
	case errors.Is(err, storage.ErrTableFull):
		fmt.Fprintln(r.out, r.styles.err.Render("Error: Table full."))
	default:
		return err
	}
	return nil
}

func (r *repl) execute(stmt statement) error {
	switch stmt.typ {
	case statementInsert:
		return r.tbl.Insert(stmt.row)
	case statementSelect:
		for row, err := range r.tbl.Rows() {
			if err != nil {
				return err
			}
			fmt.Fprintln(r.out, row)
		}
		return nil
	default:
		return fmt.Errorf("unknown statement type %d", stmt.typ)
	}
}

// prepareStatement parses "insert <id> <username> <email>" or "select".
func prepareStatement(line string) (statement, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return statement{}, errSyntax
	}

	switch fields[0] {
	case "insert":
		if len(fields) != 4 {
			return statement{}, errSyntax
		}
		id, err := table.ParseID(fields[1])
		if errors.Is(err, table.ErrNegativeID) {
			return statement{}, err
		}
		if err != nil {
			return statement{}, fmt.Errorf("%w: %v", errSyntax, err)
		}
		row := table.Row{ID: id, Username: fields[2], Email: fields[3]}
		if err := row.Validate(); err != nil {
			return statement{}, err
		}
		return statement{typ: statementInsert, row: row}, nil

	case "select":
		if len(fields) != 1 {
			return statement{}, errSyntax
		}
		return statement{typ: statementSelect}, nil

	default:
		return statement{}, errUnrecognizedKeyword
	}
}
