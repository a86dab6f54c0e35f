package control

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

const consoleHelp = `commands:
  connect                       connect to the gateway
  disconnect                    stop trading and disconnect
  start SYMBOL EXPIRATION SIZE  start trading (expiration YYYYMMDD or YYYY-MM-DD)
  stop                          stop trading
  set BUY SELL                  update thresholds
  status                        show the panel
  help                          show this help
  quit                          exit`

// Console 逐行读取命令并交给 Controller。
type Console struct {
	c   *Controller
	in  io.Reader
	out io.Writer
}

func NewConsole(c *Controller, in io.Reader, out io.Writer) *Console {
	return &Console{c: c, in: in, out: out}
}

// Run 处理输入直到 EOF、quit 或 ctx 取消。
func (con *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(con.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			if quit := con.Exec(ctx, line); quit {
				return nil
			}
		}
	}
}

// Exec 执行一行命令，返回是否退出。
func (con *Console) Exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	var err error
	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(con.out, consoleHelp)
		return false
	case "connect":
		err = con.c.Connect(ctx)
	case "disconnect":
		err = con.c.Disconnect(ctx)
	case "start":
		var sym, exp, size string
		if len(args) > 0 {
			sym = args[0]
		}
		if len(args) > 1 {
			exp = args[1]
		}
		if len(args) > 2 {
			size = args[2]
		}
		err = con.c.StartTrading(ctx, sym, exp, size)
	case "stop":
		err = con.c.StopTrading(ctx)
	case "set":
		if len(args) != 2 {
			fmt.Fprintln(con.out, "usage: set BUY SELL")
			return false
		}
		err = con.c.SetParameters(ctx, args[0], args[1])
	case "status":
		snap, serr := con.c.Snapshot(ctx)
		if serr != nil {
			err = serr
			break
		}
		con.printSnapshot(snap)
		return false
	default:
		fmt.Fprintf(con.out, "unknown command %q, type help\n", cmd)
		return false
	}
	if err != nil {
		fmt.Fprintf(con.out, "Error: %v\n", err)
		return false
	}
	fmt.Fprintln(con.out, "ok")
	return false
}

func (con *Console) printSnapshot(s Snapshot) {
	fmt.Fprintf(con.out, "State: %s\n", s.State)
	fmt.Fprintf(con.out, "Buy Threshold: %v  Sell Threshold: %v\n", s.BuyThreshold, s.SellThreshold)
	if s.Price != "" {
		fmt.Fprintln(con.out, s.Price)
	}
	if s.Contract != "" {
		fmt.Fprintln(con.out, s.Contract)
	}
	if s.Status != "" {
		fmt.Fprintf(con.out, "Status: %s\n", s.Status)
	}
}
