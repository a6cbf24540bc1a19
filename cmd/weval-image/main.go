package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-weval/image"
	"github.com/wippyai/wasm-weval/intrinsics"
	"github.com/wippyai/wasm-weval/module"
	"github.com/wippyai/wasm-weval/verify"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, name := range strings.Split(v, ",") {
		if name = strings.TrimSpace(name); name != "" {
			*l = append(*l, name)
		}
	}
	return nil
}

type options struct {
	wasmFile    string
	outFile     string
	consts      listFlag
	verify      bool
	interactive bool
	verbose     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.wasmFile, "wasm", "", "Path to core wasm module")
	flag.StringVar(&opts.outFile, "o", "", "Write the module back with its memory image to this path")
	flag.Var(&opts.consts, "const", "Exported () -> i32 function to extract a constant from (repeatable)")
	flag.BoolVar(&opts.verify, "verify", false, "Check the image against a wazero instance")
	flag.BoolVar(&opts.interactive, "i", false, "Browse memories interactively")
	flag.BoolVar(&opts.verbose, "v", false, "Debug logging")
	flag.Parse()

	if opts.wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: weval-image -wasm <file.wasm> [-const name]... [-o out.wasm] [-verify]")
		fmt.Fprintln(os.Stderr, "       weval-image -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	logger := zap.NewNop()
	if opts.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		logger = l
	}
	defer logger.Sync()
	image.SetLogger(logger.Named("image"))
	intrinsics.SetLogger(logger.Named("intrinsics"))
	verify.SetLogger(logger.Named("verify"))

	if err := run(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loaded is a parsed module with its image and hooks.
type loaded struct {
	module *module.Module
	image  *image.Image
	hooks  *intrinsics.Intrinsics
	consts []constant
}

type constant struct {
	name  string
	err   error
	value uint32
	found bool
}

func load(path string, constNames []string) (*loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	m, err := module.Parse(data)
	if err != nil {
		return nil, err
	}
	im, err := image.Build(m, image.RolesFromExports())
	if err != nil {
		return nil, err
	}

	l := &loaded{module: m, image: im, hooks: intrinsics.Find(m)}
	for _, name := range constNames {
		v, ok, err := intrinsics.ExportedConstant(m, name)
		l.consts = append(l.consts, constant{name: name, value: v, found: ok, err: err})
	}
	return l, nil
}

func run(ctx context.Context, opts options) error {
	l, err := load(opts.wasmFile, opts.consts)
	if err != nil {
		return err
	}

	if opts.interactive {
		return runBrowser(opts.wasmFile, l.image)
	}

	styles := plainStyles()
	if term.IsTerminal(int(os.Stdout.Fd())) {
		styles = colorStyles()
	}
	summarize(os.Stdout, styles, opts.wasmFile, l)

	if opts.outFile != "" {
		image.Update(l.module, l.image)
		out, err := l.module.Encode()
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.outFile, out, 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Printf("\nWrote %s (%d bytes)\n", opts.outFile, len(out))
	}

	if opts.verify {
		if err := verify.Image(ctx, l.module, l.image, nil); err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		fmt.Println(styles.ok.Render("Image matches wazero instance"))
	}
	return nil
}
