// Command conode runs a node hosting the randomness beacon and the raffle
// unit.
package main

import (
	"os"
	"path/filepath"

	_ "github.com/dedis/raffle/beacon"
	_ "github.com/dedis/raffle/raffle"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/onet/v3/app"
	"go.dedis.ch/onet/v3/cfgpath"
	"go.dedis.ch/onet/v3/log"
	"gopkg.in/urfave/cli.v1"
)

const binaryName = "conode"

func main() {
	a := cli.NewApp()
	a.Name = binaryName
	a.Usage = "run a raffle node"
	a.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: filepath.Join(cfgpath.GetConfigPath(binaryName), app.DefaultServerConfig),
			Usage: "server configuration file",
		},
		cli.IntFlag{Name: "debug, d", Usage: "debug level"},
	}
	a.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.GlobalInt("debug"))
		return nil
	}
	a.Commands = []cli.Command{
		{
			Name:  "setup",
			Usage: "interactively write the server configuration",
			Action: func(c *cli.Context) error {
				app.InteractiveConfig(cothority.Suite, binaryName)
				return nil
			},
		},
		{
			Name:  "server",
			Usage: "run the node",
			Action: func(c *cli.Context) error {
				app.RunServer(c.GlobalString("config"))
				return nil
			},
		},
	}
	a.Action = func(c *cli.Context) error {
		app.RunServer(c.GlobalString("config"))
		return nil
	}
	if err := a.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
