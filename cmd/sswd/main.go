// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command sswd is the process bootstrap: it parses configuration, wires
// a zap logger, builds the index and dispatcher, and hands a reactor
// the accept/read/write loop.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"code.hybscloud.com/ssw/index"
	"code.hybscloud.com/ssw/internal/reactor"
	"code.hybscloud.com/ssw/proto"
)

func main() {
	var cli CLI

	configFile := peekConfigFile(os.Args[1:])
	resolver, err := newConfigResolver(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sswd: loading config file:", err)
		os.Exit(1)
	}

	kctx := kong.Parse(&cli,
		kong.Name("sswd"),
		kong.Description("in-memory key/value server"),
		kong.Resolvers(resolver),
	)

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sswd: building logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	kctx.FatalIfErrorf(run(&cli, log))
}

func run(cli *CLI, log *zap.Logger) error {
	idx := index.New(cli.InitialCapacity)
	dispatcher := proto.NewDispatcher(idx)

	limits := []proto.Option{
		proto.WithValueSizeMax(cli.ValueSizeMax),
		proto.WithArraySizeMax(cli.ArraySizeMax),
	}

	r := reactor.New(log, reactor.Handlers{
		OnAccept: func(c *reactor.Conn) {
			ag := proto.NewAggregator(limits...)
			c.UserData = ag
		},
		OnReadable: func(c *reactor.Conn) bool {
			ag := c.UserData.(*proto.Aggregator)
			for {
				cmd, n, err := ag.Feed(c.Pending())
				if err == proto.ErrNeedMore {
					c.Advance(n)
					return true
				}
				c.Advance(n)
				if err != nil {
					kind := proto.KindBadFraming
					if pe, ok := err.(*proto.Error); ok {
						kind = pe.Kind
					}
					var buf []byte
					proto.NewReplyWriter(&buf).Error(kind)
					c.Queue(buf)
					if proto.Fatal(err) {
						log.Warn("closing connection on protocol fault", zap.Int("fd", c.Fd()), zap.Error(err))
						return false
					}
					continue
				}

				var buf []byte
				if derr := dispatcher.Dispatch(cmd, proto.NewReplyWriter(&buf)); derr != nil {
					c.Queue(buf)
					log.Warn("closing connection on dispatch fault", zap.Int("fd", c.Fd()), zap.Error(derr))
					return false
				}
				c.Queue(buf)
			}
		},
	})

	log.Info("starting sswd",
		zap.Int("port", cli.Port),
		zap.Int("backlog", cli.Backlog),
		zap.Uint64("initial_capacity", cli.InitialCapacity),
	)
	return r.Run(cli.Port, cli.Backlog)
}
