// Command petra is the CLI for the petra embedded database: an interactive
// SQL shell, one-shot execution, SQL dumps, and integrity checks.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/chzyer/readline"
	"github.com/ulikunitz/xz"
	"golang.org/x/term"

	"github.com/FocuswithJustin/petra"
)

const version = "0.1.0"

// CLI defines the command-line interface.
var CLI struct {
	Shell   ShellCmd   `cmd:"" default:"withargs" help:"Open an interactive SQL shell"`
	Exec    ExecCmd    `cmd:"" help:"Execute SQL statements and print the result"`
	Dump    DumpCmd    `cmd:"" help:"Dump the database as SQL text"`
	Check   CheckCmd   `cmd:"" help:"Run an integrity check (page reachability, digests)"`
	Tables  TablesCmd  `cmd:"" help:"List tables"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

type ShellCmd struct {
	Database string `arg:"" help:"Database file" type:"path"`
}

type ExecCmd struct {
	Database string `arg:"" help:"Database file" type:"path"`
	SQL      string `arg:"" help:"SQL statements to execute"`
}

type DumpCmd struct {
	Database string `arg:"" help:"Database file" type:"path"`
	Output   string `name:"output" short:"o" help:"Output file (default stdout)" type:"path"`
	Compress bool   `name:"compress" short:"z" help:"Compress the dump with xz"`
}

type CheckCmd struct {
	Database string `arg:"" help:"Database file" type:"path"`
}

type TablesCmd struct {
	Database string `arg:"" help:"Database file" type:"path"`
}

type VersionCmd struct{}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("petra"),
		kong.Description("petra - single-file embedded SQL database"),
		kong.UsageOnError(),
	)
	if err := ctx.Run(); err != nil {
		log.Fatal(err)
	}
}

func (c *VersionCmd) Run() error {
	fmt.Printf("petra %s\n", version)
	return nil
}

func (c *ExecCmd) Run() error {
	db, err := petra.Open(c.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.Exec(c.SQL)
	if err != nil {
		return err
	}
	printResult(os.Stdout, res)
	return nil
}

func (c *TablesCmd) Run() error {
	db, err := petra.Open(c.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, name := range db.TableNames() {
		fmt.Println(name)
	}
	return nil
}

func (c *CheckCmd) Run() error {
	db, err := petra.Open(c.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	report, err := db.CheckIntegrity()
	if err != nil {
		return err
	}
	fmt.Println(report.String())
	fmt.Println("ok")
	return nil
}

func (c *DumpCmd) Run() error {
	db, err := petra.Open(c.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	var out io.Writer = os.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if c.Compress {
		xzw, err := xz.NewWriter(out)
		if err != nil {
			return err
		}
		defer xzw.Close()
		out = xzw
	}
	return db.DumpSQL(out)
}

func (c *ShellCmd) Run() error {
	db, err := petra.Open(c.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if !interactive {
		// Piped input: read everything and execute statement by statement.
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		res, err := db.Exec(string(data))
		if err != nil {
			return err
		}
		printResult(os.Stdout, res)
		return nil
	}

	rl, err := readline.New("petra> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Printf("petra %s - connected to %s\n", version, c.Database)
	fmt.Println("Type SQL statements terminated by ';', or .quit to exit.")

	var buf strings.Builder
	for {
		prompt := "petra> "
		if buf.Len() > 0 {
			prompt = "  ...> "
		}
		rl.SetPrompt(prompt)

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			buf.Reset()
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		trimmed := strings.TrimSpace(line)
		if buf.Len() == 0 && strings.HasPrefix(trimmed, ".") {
			switch trimmed {
			case ".quit", ".exit":
				return nil
			case ".tables":
				for _, name := range db.TableNames() {
					fmt.Println(name)
				}
			case ".check":
				report, err := db.CheckIntegrity()
				if err != nil {
					fmt.Fprintln(os.Stderr, "error:", err)
					continue
				}
				fmt.Println(report.String())
			default:
				fmt.Fprintln(os.Stderr, "unknown command:", trimmed)
			}
			continue
		}

		buf.WriteString(line)
		buf.WriteString("\n")
		if !strings.HasSuffix(trimmed, ";") {
			continue
		}

		sql := buf.String()
		buf.Reset()
		res, err := db.Exec(sql)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		printResult(os.Stdout, res)
	}
}

func printResult(w io.Writer, res *petra.Result) {
	switch res.Kind {
	case petra.ResultSelect:
		fmt.Fprintln(w, strings.Join(res.Columns, " | "))
		for _, row := range res.Rows {
			parts := make([]string, len(row))
			for i, v := range row {
				parts[i] = formatValue(v)
			}
			fmt.Fprintln(w, strings.Join(parts, " | "))
		}
		fmt.Fprintf(w, "(%d rows)\n", len(res.Rows))
	case petra.ResultWrite:
		fmt.Fprintf(w, "%d rows affected\n", res.RowsAffected)
	default:
		fmt.Fprintln(w, "ok")
	}
}

func formatValue(v petra.Value) string {
	switch v.Kind {
	case petra.KindNull:
		return "NULL"
	case petra.KindInt:
		return fmt.Sprintf("%d", v.Int)
	case petra.KindReal:
		return fmt.Sprintf("%g", v.Real)
	default:
		return v.Text
	}
}
