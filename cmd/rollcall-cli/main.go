package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
)

func main() {
	var (
		hostF    = flag.String("host", "localhost:8080", "Server host:port")
		secureF  = flag.Bool("secure", false, "Use secure scheme (https)")
		timeoutF = flag.Int("timeout", 30, "Maximum number of seconds to wait for response")
		verboseF = flag.Bool("verbose", false, "Print request and response details")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}

	scheme := "http"
	if *secureF {
		scheme = "https"
	}

	c := newClient(scheme, *hostF, *timeoutF, *verboseF)
	if err := run(context.Background(), c, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client, args []string, out io.Writer) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "start":
		if len(rest) != 2 {
			return fmt.Errorf("usage: start COURSE_ID HALL_NAME")
		}
		return c.do(ctx, "POST", "/api/v1/attendance/start",
			map[string]string{"course_id": rest[0], "hall_name": rest[1]}, out)

	case "stop":
		if len(rest) < 1 || len(rest) > 2 {
			return fmt.Errorf("usage: stop COURSE_ID [RECIPIENT]")
		}
		body := map[string]string{"course_id": rest[0]}
		if len(rest) == 2 {
			body["recipient"] = rest[1]
		}
		return c.do(ctx, "POST", "/api/v1/attendance/stop", body, out)

	case "status":
		if len(rest) == 0 {
			return c.do(ctx, "GET", "/api/v1/attendance", nil, out)
		}
		return c.do(ctx, "GET", "/api/v1/attendance/"+url.PathEscape(rest[0]), nil, out)

	case "history":
		if len(rest) < 1 || len(rest) > 2 {
			return fmt.Errorf("usage: history COURSE_ID [LIMIT]")
		}
		path := "/api/v1/attendance/" + url.PathEscape(rest[0]) + "/history"
		if len(rest) == 2 {
			limit, err := strconv.Atoi(rest[1])
			if err != nil {
				return fmt.Errorf("invalid limit %q", rest[1])
			}
			path += "?limit=" + strconv.Itoa(limit)
		}
		return c.do(ctx, "GET", path, nil, out)

	case "health":
		return c.do(ctx, "GET", "/readyz", nil, out)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `%s is a command line client for the rollcall API.

Usage:
    %s [-host HOST] [-secure] [-timeout SECONDS] [-verbose] COMMAND [ARGS]

Commands:
    start COURSE_ID HALL_NAME       start taking attendance
    stop COURSE_ID [RECIPIENT]      stop and send the roster (e-mail or telegram:<chat id>)
    status [COURSE_ID]              show running sessions
    history COURSE_ID [LIMIT]       show past sessions
    health                          check server readiness

Example:
    %s start CS101 HALL-A
    %s stop CS101 prof@example.edu
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}
