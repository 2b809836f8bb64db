package graph

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupportedExpression is returned for equations that use anything
// other than x, numbers, arithmetic and the known functions.
var ErrUnsupportedExpression = errors.New("unsupported expression")

// Renderer draws y = equation over [xMin, xMax].
type Renderer interface {
	Render(ctx context.Context, equation string, xMin, xMax float64) (*Result, error)
}

// Result describes a rendered graph file.
type Result struct {
	Path string
	Size int64
}

var (
	identRegex    = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	allowedChars  = regexp.MustCompile(`^[A-Za-z0-9_+\-*/().,\s]+$`)
	implicitMulRe = regexp.MustCompile(`(^|[^A-Za-z0-9_.])(\d+(?:\.\d+)?)\s*([A-Za-z(])`)
	closeParenMul = regexp.MustCompile(`\)\s*([A-Za-z0-9(])`)
)

var functions = map[string]bool{
	"sin": true, "cos": true, "tan": true,
	"asin": true, "acos": true, "atan": true,
	"sinh": true, "cosh": true, "tanh": true,
	"exp": true, "log": true, "log10": true,
	"sqrt": true, "abs": true, "pi": true, "x": true,
}

// Gnuplot renders PNG graphs by running the gnuplot binary.
type Gnuplot struct {
	// Path is the gnuplot executable, "gnuplot" when empty.
	Path string
	// Dir receives the PNG files.
	Dir     string
	Timeout time.Duration
}

// Expression converts an equation to gnuplot syntax. Only whitelisted
// identifiers are accepted so nothing reaches gnuplot's shell commands.
func Expression(equation string) (string, error) {
	expr := strings.NewReplacer("np.", "", "math.", "", "ln(", "log(", "e**", "exp(1)**").Replace(equation)
	expr = strings.TrimSpace(expr)
	if expr == "" || !allowedChars.MatchString(expr) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedExpression, equation)
	}
	for _, id := range identRegex.FindAllString(expr, -1) {
		if !functions[id] {
			return "", fmt.Errorf("%w: unknown name %q", ErrUnsupportedExpression, id)
		}
	}
	// 2x -> 2*x, 3(x+1) -> 3*(x+1), (x+1)(x-1) -> (x+1)*(x-1)
	expr = implicitMulRe.ReplaceAllString(expr, "${1}${2}*${3}")
	expr = closeParenMul.ReplaceAllString(expr, ")*$1")
	return expr, nil
}

// Script returns the gnuplot program for one graph.
func Script(expr, title, output string, xMin, xMax float64) string {
	var sb strings.Builder
	sb.WriteString("set terminal pngcairo size 1000,600 enhanced font ',11'\n")
	fmt.Fprintf(&sb, "set output %s\n", strconv.Quote(output))
	fmt.Fprintf(&sb, "set title %s\n", strconv.Quote("Đồ thị hàm số y = "+title))
	sb.WriteString("set xlabel 'x'\nset ylabel 'y'\n")
	sb.WriteString("set grid lw 0.5 lc rgb '#cccccc'\n")
	sb.WriteString("set xzeroaxis lt -1\nset yzeroaxis lt -1\n")
	sb.WriteString("set samples 1000\nset key top left\n")
	fmt.Fprintf(&sb, "plot [%g:%g] %s title %s lw 2\n", xMin, xMax, expr, strconv.Quote("y = "+title))
	return sb.String()
}

// Render writes a PNG for y = equation and returns its path.
func (g *Gnuplot) Render(ctx context.Context, equation string, xMin, xMax float64) (*Result, error) {
	expr, err := Expression(equation)
	if err != nil {
		return nil, err
	}
	if xMin >= xMax {
		return nil, fmt.Errorf("invalid range [%g, %g]", xMin, xMax)
	}
	if err := os.MkdirAll(g.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create graph dir: %w", err)
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%g|%g", expr, xMin, xMax)))
	name := fmt.Sprintf("graph_%s_%d.png", hex.EncodeToString(sum[:4]), time.Now().Unix())
	out := filepath.Join(g.Dir, name)

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bin := g.Path
	if bin == "" {
		bin = "gnuplot"
	}
	cmd := exec.CommandContext(ctx, bin)
	cmd.Stdin = strings.NewReader(Script(expr, equation, out, xMin, xMax))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run gnuplot: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	info, err := os.Stat(out)
	if err != nil {
		return nil, fmt.Errorf("graph not written: %w", err)
	}
	slog.Info("graph rendered", "equation", equation, "path", out, "bytes", info.Size())
	return &Result{Path: out, Size: info.Size()}, nil
}
