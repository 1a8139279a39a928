// Command flist is a thin CLI around the pack, unpack, clone, and merge
// pipelines (spec §1: a CLI surface is not core scope, but every teacher
// pipeline package ships a cmd/ wrapper in this shape).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/apex/log"
	logcli "github.com/apex/log/handlers/cli"
	units "github.com/docker/go-units"
	"github.com/urfave/cli"

	"github.com/threefoldtech/rfs-go/pkg/cache"
	"github.com/threefoldtech/rfs-go/pkg/catalog"
	"github.com/threefoldtech/rfs-go/pkg/clone"
	"github.com/threefoldtech/rfs-go/pkg/config"
	"github.com/threefoldtech/rfs-go/pkg/pack"
	"github.com/threefoldtech/rfs-go/pkg/router"
	"github.com/threefoldtech/rfs-go/pkg/unpack"
)

func main() {
	log.SetHandler(logcli.New(os.Stderr))

	app := cli.NewApp()
	app.Name = "flist"
	app.Usage = "pack, unpack, clone and merge content-addressed filesystem images"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "debug", Usage: "set log level to debug"},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("debug") {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	}

	app.Commands = []cli.Command{packCommand, unpackCommand, cloneCommand, mergeCommand, routesCommand, infoCommand}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err.Error())
	}
}

var storeFlag = cli.StringSliceFlag{
	Name:  "store",
	Usage: "backend route of the form '[<lo>-<hi>=]<url>' (dir://, s3[s]://, zdb://); may be repeated",
}

var packCommand = cli.Command{
	Name:      "pack",
	Usage:     "pack a directory into a new .fl image",
	ArgsUsage: "<source-dir> <image.fl>",
	Flags: []cli.Flag{
		storeFlag,
		cli.IntFlag{Name: "workers", Value: config.DefaultWorkers},
		cli.BoolFlag{Name: "strip-password", Usage: "omit store credentials from the catalog's route table"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return fmt.Errorf("pack requires exactly 2 arguments: <source-dir> <image.fl>")
		}
		source, imagePath := c.Args().Get(0), c.Args().Get(1)

		r, err := buildRouter(c.StringSlice("store"))
		if err != nil {
			return err
		}

		w, err := catalog.NewWriter(imagePath)
		if err != nil {
			return fmt.Errorf("open catalog for writing: %w", err)
		}

		opts := config.DefaultPackOptions()
		opts.Workers = c.Int("workers")
		opts.StripPassword = c.Bool("strip-password")

		if err := pack.Pack(context.Background(), w, r, source, opts); err != nil {
			w.Close()
			os.Remove(imagePath)
			return err
		}
		return w.Close()
	},
}

var unpackCommand = cli.Command{
	Name:      "unpack",
	Usage:     "unpack a .fl image into a directory",
	ArgsUsage: "<image.fl> <target-dir>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "cache-dir", Usage: "local cache directory (defaults to $TMPDIR/flist-cache)"},
		cli.IntFlag{Name: "workers", Value: config.DefaultWorkers},
		cli.BoolFlag{Name: "preserve-owner", Usage: "apply uid/gid from the image"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return fmt.Errorf("unpack requires exactly 2 arguments: <image.fl> <target-dir>")
		}
		imagePath, target := c.Args().Get(0), c.Args().Get(1)

		reader, err := catalog.OpenReader(imagePath)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer reader.Close()

		r, err := routerFromCatalog(reader)
		if err != nil {
			return err
		}

		cacheDir := c.String("cache-dir")
		if cacheDir == "" {
			cacheDir = os.TempDir() + "/flist-cache"
		}
		ca, err := cache.New(cacheDir, r)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}

		opts := config.DefaultUnpackOptions()
		opts.Workers = c.Int("workers")
		opts.Preserve = c.Bool("preserve-owner")

		return unpack.Unpack(context.Background(), reader, ca, target, opts)
	},
}

var cloneCommand = cli.Command{
	Name:      "clone",
	Usage:     "copy every block an image references to a different set of backends",
	ArgsUsage: "<image.fl>",
	Flags: []cli.Flag{
		cli.StringSliceFlag{Name: "dst-store", Usage: "destination backend route, same syntax as --store"},
		cli.IntFlag{Name: "download-workers", Value: config.DefaultWorkers},
		cli.IntFlag{Name: "upload-workers", Value: config.DefaultWorkers},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("clone requires exactly 1 argument: <image.fl>")
		}
		imagePath := c.Args().Get(0)

		reader, err := catalog.OpenReader(imagePath)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer reader.Close()

		src, err := routerFromCatalog(reader)
		if err != nil {
			return err
		}
		dst, err := buildRouter(c.StringSlice("dst-store"))
		if err != nil {
			return err
		}

		opts := config.DefaultCloneOptions()
		opts.DownloadWorkers = c.Int("download-workers")
		opts.UploadWorkers = c.Int("upload-workers")

		return clone.Clone(context.Background(), reader, src, dst, opts)
	},
}

var mergeCommand = cli.Command{
	Name:      "merge",
	Usage:     "replay several .fl catalogs' inode trees into one destination catalog",
	ArgsUsage: "<dest.fl> <source1.fl> [source2.fl...]",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "on-collision", Value: "last", Usage: "first|last|error"},
		cli.StringSliceFlag{Name: "dst-store", Usage: "destination backend route, same syntax as --store"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() < 2 {
			return fmt.Errorf("merge requires at least 2 arguments: <dest.fl> <source1.fl> [source2.fl...]")
		}

		policy, err := parseCollisionPolicy(c.String("on-collision"))
		if err != nil {
			return err
		}

		dstRouter, err := buildRouter(c.StringSlice("dst-store"))
		if err != nil {
			return err
		}

		dstPath := c.Args().Get(0)
		w, err := catalog.NewWriter(dstPath)
		if err != nil {
			return fmt.Errorf("open destination catalog: %w", err)
		}
		if err := w.PutInode(catalog.Inode{Ino: catalog.RootIno, Name: "/", Mode: catalog.ModeDir | 0755}); err != nil {
			w.Close()
			return fmt.Errorf("seed destination root: %w", err)
		}

		var sources []clone.Source
		for _, path := range c.Args()[1:] {
			r, err := catalog.OpenReader(path)
			if err != nil {
				w.Close()
				return fmt.Errorf("open source %q: %w", path, err)
			}
			defer r.Close()

			sr, err := routerFromCatalog(r)
			if err != nil {
				w.Close()
				return fmt.Errorf("build router for source %q: %w", path, err)
			}
			sources = append(sources, clone.Source{Reader: r, Router: sr})
		}

		if err := clone.Merge(context.Background(), w, dstRouter, sources, config.MergeOptions{Collision: policy}); err != nil {
			w.Close()
			os.Remove(dstPath)
			return err
		}
		for _, route := range dstRouter.Routes() {
			if err := w.PutRoute(route.Start, route.End, route.URL); err != nil {
				w.Close()
				os.Remove(dstPath)
				return fmt.Errorf("put route: %w", err)
			}
		}
		return w.Close()
	},
}

var routesCommand = cli.Command{
	Name:      "routes",
	Usage:     "print the routing table recorded in a .fl image",
	ArgsUsage: "<image.fl>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("routes requires exactly 1 argument: <image.fl>")
		}
		reader, err := catalog.OpenReader(c.Args().Get(0))
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer reader.Close()

		routes, err := reader.Routes()
		if err != nil {
			return err
		}
		for _, route := range routes {
			fmt.Printf("0x%02x-0x%02x\t%s\n", route.Start, route.End, route.URL)
		}
		return nil
	},
}

var infoCommand = cli.Command{
	Name:      "info",
	Usage:     "print an image's tags and total uncompressed size",
	ArgsUsage: "<image.fl>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("info requires exactly 1 argument: <image.fl>")
		}
		reader, err := catalog.OpenReader(c.Args().Get(0))
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer reader.Close()

		tags, err := reader.Tags()
		if err != nil {
			return err
		}
		for _, tag := range tags {
			fmt.Printf("%s:\t%s\n", tag.Key, tag.Value)
		}

		var total int64
		err = reader.Walk(func(_ string, inode catalog.Inode) (catalog.VisitResult, error) {
			if inode.IsRegular() {
				total += inode.Size
			}
			return catalog.Continue, nil
		})
		if err != nil {
			return err
		}
		fmt.Printf("size:\t%s\n", units.HumanSize(float64(total)))
		return nil
	},
}

func parseCollisionPolicy(s string) (config.MergeCollisionPolicy, error) {
	switch s {
	case "first":
		return config.FirstWriterWins, nil
	case "last":
		return config.LastWriterWins, nil
	case "error":
		return config.ErrorOnCollision, nil
	default:
		return 0, fmt.Errorf("invalid --on-collision %q: want first, last, or error", s)
	}
}

// buildRouter parses each --store flag value with router.ParseRange and
// opens the matching backend by URL scheme.
func buildRouter(specs []string) (*router.Router, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one --store is required")
	}
	r := router.New()
	for _, spec := range specs {
		start, end, rawURL, err := router.ParseRange(spec)
		if err != nil {
			return nil, fmt.Errorf("parse --store %q: %w", spec, err)
		}
		backend, err := openBackend(context.Background(), rawURL, start, end)
		if err != nil {
			return nil, err
		}
		r.Add(start, end, backend)
	}
	return r, nil
}

// routerFromCatalog rebuilds a Router from the route table an image packed
// with persistRoutes left behind, so unpack and clone never need --store
// flags for the source image (spec §4.5 step 1).
func routerFromCatalog(reader *catalog.Reader) (*router.Router, error) {
	rows, err := reader.Routes()
	if err != nil {
		return nil, fmt.Errorf("read routes: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("catalog has no recorded routes")
	}
	r := router.New()
	for _, row := range rows {
		backend, err := openBackend(context.Background(), row.URL, row.Start, row.End)
		if err != nil {
			return nil, err
		}
		r.Add(row.Start, row.End, backend)
	}
	return r, nil
}
