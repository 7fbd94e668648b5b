// gtest checks every sample against its golden file: the lowered IR must be
// stable across translations and the interpreted run must match what was
// recorded.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/trans/pkg/codegen"
	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/samples"
)

// Golden is what a sample is expected to do
type Golden struct {
	Sample string `json:"sample"`
	IRHash string `json:"ir_hash"`
	Output string `json:"output"`
	Value  int64  `json:"value"`
	Panic  string `json:"panic,omitempty"`
	Leaked int    `json:"leaked,omitempty"`
}

type SampleResult struct {
	Sample    string        `json:"sample"`
	Status    string        `json:"status"` // PASS, FAIL, SKIP, ERROR
	Message   string        `json:"message,omitempty"`
	Diff      string        `json:"diff,omitempty"`
	Translate time.Duration `json:"translate"`
	Run       time.Duration `json:"run"`
	Reference *Golden       `json:"reference,omitempty"`
	Target    *Golden       `json:"target,omitempty"`
}

type SuiteResults map[string]*SampleResult

var (
	generateGolden = flag.Bool("generate-golden", false, "Write golden files for the selected samples instead of testing them.")
	sampleNames    = flag.String("samples", "", "Samples to test (space-separated, defaults to all).")
	skipSamples    = flag.String("skip", "", "Samples to skip (space-separated).")
	goldenDir      = flag.String("dir", "testdata", "Directory holding the golden JSON files.")
	outputJSON     = flag.String("output", ".test_results.json", "Output file for the JSON test report.")
	backendName    = flag.String("backend", "qbe", "Backend whose IR text is hashed.")
	profile        = flag.String("profile", "checked", "Feature profile to translate with.")
	extraFlags     = flag.String("flags", "", "Extra -F/-W flags applied after the profile (space-separated).")
	timeout        = flag.Duration("timeout", 5*time.Second, "Timeout for each sample run.")
	jobs           = flag.Int("j", runtime.NumCPU(), "Number of parallel test jobs.")
	verbose        = flag.Bool("v", false, "Enable verbose logging.")
	useCache       = flag.Bool("cached", false, "Skip the run when the IR hash matches the golden file.")
)

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"
)

func main() {
	flag.Parse()
	log.SetFlags(0)

	if *jobs < 1 {
		*jobs = 1
	}

	selected, err := selectSamples()
	if err != nil {
		log.Fatalf("%s[ERROR]%s %v\n", cRed, cNone, err)
	}

	if *generateGolden {
		handleGenerateGolden(selected)
		return
	}
	handleRunTestSuite(selected)
}

func newConfig() *config.Config {
	cfg := config.NewConfig()
	if err := cfg.ApplyProfile(*profile); err != nil {
		log.Fatalf("%s[ERROR]%s %v\n", cRed, cNone, err)
	}
	cfg.ProcessFlagString(*extraFlags)
	cfg.BackendName = *backendName
	return cfg
}

func selectSamples() ([]*samples.Sample, error) {
	if *sampleNames == "" {
		return samples.All(), nil
	}
	var out []*samples.Sample
	for _, name := range strings.Fields(*sampleNames) {
		s, ok := samples.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown sample '%s'", name)
		}
		out = append(out, s)
	}
	return out, nil
}

func goldenPath(name string) string {
	return filepath.Join(*goldenDir, "."+name+".json")
}

// irHash translates s and hashes the backend's IR text
func irHash(s *samples.Sample, cfg *config.Config) (string, error) {
	prog, err := samples.Translate(s, cfg)
	if err != nil {
		return "", err
	}
	be, err := codegen.NewBackend(cfg.BackendName)
	if err != nil {
		return "", err
	}
	text, err := be.GenerateIR(prog, cfg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(text)), nil
}

// runSample records what s does now, bounded by -timeout
func runSample(s *samples.Sample, cfg *config.Config) (*Golden, time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	type outcome struct {
		res *samples.Result
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		res, err := samples.Run(s, cfg)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, time.Since(start), fmt.Errorf("timed out after %s", *timeout)
	case o := <-done:
		if o.err != nil {
			return nil, time.Since(start), o.err
		}
		return &Golden{
			Sample: s.Name,
			Output: o.res.Output,
			Value:  o.res.Value,
			Panic:  o.res.Panic,
			Leaked: o.res.Leaked,
		}, time.Since(start), nil
	}
}

func handleGenerateGolden(selected []*samples.Sample) {
	cfg := newConfig()
	if err := os.MkdirAll(*goldenDir, 0755); err != nil {
		log.Fatalf("%s[ERROR]%s Failed to create directory %s: %v\n", cRed, cNone, *goldenDir, err)
	}

	for _, s := range selected {
		hash, err := irHash(s, cfg)
		if err != nil {
			log.Fatalf("%s[ERROR]%s Could not translate %s: %v\n", cRed, cNone, s.Name, err)
		}
		g, _, err := runSample(s, cfg)
		if err != nil {
			log.Fatalf("%s[ERROR]%s Could not run %s: %v\n", cRed, cNone, s.Name, err)
		}
		g.IRHash = hash

		jsonData, err := json.MarshalIndent(g, "", "  ")
		if err != nil {
			log.Fatalf("%s[ERROR]%s Failed to marshal golden data to JSON: %v\n", cRed, cNone, err)
		}
		if err := os.WriteFile(goldenPath(s.Name), jsonData, 0644); err != nil {
			log.Fatalf("%s[ERROR]%s Failed to write golden file %s: %v\n", cRed, cNone, goldenPath(s.Name), err)
		}
		log.Printf("%s[SUCCESS]%s Golden file created at %s\n", cGreen, cNone, goldenPath(s.Name))
	}
}

func handleRunTestSuite(selected []*samples.Sample) {
	skipList := make(map[string]bool)
	for _, name := range strings.Fields(*skipSamples) {
		skipList[name] = true
	}

	tasks := make(chan *samples.Sample, len(selected))
	resultsChan := make(chan *SampleResult, len(selected))
	var wg sync.WaitGroup

	for i := 0; i < *jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range tasks {
				resultsChan <- testSample(s)
			}
		}()
	}

	for _, s := range selected {
		if skipList[s.Name] {
			resultsChan <- &SampleResult{Sample: s.Name, Status: "SKIP", Message: "Explicitly skipped"}
			continue
		}
		tasks <- s
	}
	close(tasks)

	wg.Wait()
	close(resultsChan)

	var allResults []*SampleResult
	for result := range resultsChan {
		allResults = append(allResults, result)
	}
	sort.Slice(allResults, func(i, j int) bool {
		return allResults[i].Sample < allResults[j].Sample
	})

	printSummary(allResults)
	resultsMap := writeJSONReport(allResults)

	if hasFailures(resultsMap) {
		os.Exit(1)
	}
}

func testSample(s *samples.Sample) *SampleResult {
	// Each job owns its config; translation reads it concurrently
	cfg := newConfig()

	goldenData, err := os.ReadFile(goldenPath(s.Name))
	if err != nil {
		return &SampleResult{Sample: s.Name, Status: "SKIP", Message: "No golden file; run with -generate-golden"}
	}
	var golden Golden
	if err := json.Unmarshal(goldenData, &golden); err != nil {
		return &SampleResult{Sample: s.Name, Status: "ERROR", Message: fmt.Sprintf("Could not parse golden file %s: %v", goldenPath(s.Name), err)}
	}

	start := time.Now()
	hash, err := irHash(s, cfg)
	if err != nil {
		return &SampleResult{Sample: s.Name, Status: "FAIL", Message: fmt.Sprintf("Translation failed: %v", err), Reference: &golden}
	}
	again, err := irHash(s, cfg)
	translate := time.Since(start) / 2
	if err != nil || again != hash {
		return &SampleResult{
			Sample:    s.Name,
			Status:    "FAIL",
			Message:   "Translation is not deterministic",
			Diff:      cmp.Diff(hash, again),
			Translate: translate,
			Reference: &golden,
		}
	}
	if *verbose {
		log.Printf("[%s] IR hash %s (golden %s)", s.Name, hash, golden.IRHash)
	}

	if *useCache && hash == golden.IRHash {
		return &SampleResult{Sample: s.Name, Status: "PASS", Message: "IR unchanged since the golden run (cached)", Translate: translate, Reference: &golden}
	}

	got, dur, err := runSample(s, cfg)
	if err != nil {
		return &SampleResult{Sample: s.Name, Status: "ERROR", Message: err.Error(), Translate: translate, Run: dur, Reference: &golden}
	}
	got.IRHash = hash

	res := &SampleResult{Sample: s.Name, Translate: translate, Run: dur, Reference: &golden, Target: got}
	if diff := cmp.Diff(golden, *got, cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".IRHash"
	}, cmp.Ignore())); diff != "" {
		res.Status, res.Message, res.Diff = "FAIL", "Run does not match the golden file", diff
		return res
	}
	res.Status, res.Message = "PASS", "Run matches the golden file"
	if hash != golden.IRHash {
		res.Message += " (IR changed)"
	}
	return res
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%6dµs", d.Microseconds())
	}
	return fmt.Sprintf("%6dms", d.Milliseconds())
}

func printSummary(results []*SampleResult) {
	var passed, failed, skipped, errored int
	var totalTranslate, totalRun time.Duration

	for _, result := range results {
		fmt.Println("----------------------------------------------------------------------")
		fmt.Printf("Testing %s%s%s...\n", cCyan, result.Sample, cNone)

		switch result.Status {
		case "PASS":
			passed++
			fmt.Printf("  [%sPASS%s] %s\n", cGreen, cNone, result.Message)
		case "FAIL":
			failed++
			fmt.Printf("  [%sFAIL%s] %s\n", cRed, cNone, result.Message)
			fmt.Println(formatDiff(result.Diff))
		case "SKIP":
			skipped++
			fmt.Printf("  [%sSKIP%s] %s\n", cYellow, cNone, result.Message)
		case "ERROR":
			errored++
			fmt.Printf("  [%sERROR%s] %s\n", cRed, cNone, result.Message)
		}

		totalTranslate += result.Translate
		totalRun += result.Run
		if *verbose && result.Status != "SKIP" {
			fmt.Printf("  [translate: %s | run: %s]\n", formatDuration(result.Translate), formatDuration(result.Run))
		}
	}

	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%sTest Summary:%s %s%d Passed%s, %s%d Failed%s, %s%d Skipped%s, %s%d Errored%s, %d Total\n",
		cBold, cNone, cGreen, passed, cNone, cRed, failed, cNone, cYellow, skipped, cNone, cRed, errored, cNone, len(results))
	if len(results) > 0 {
		fmt.Printf("Spent %s translating and %s running.\n", totalTranslate, totalRun)
	}
}

func formatDiff(diff string) string {
	if diff == "" {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("    --- Diff ---\n")
	for _, line := range strings.Split(diff, "\n") {
		trimmedLine := strings.TrimSpace(line)
		if strings.HasPrefix(trimmedLine, "-") {
			builder.WriteString(cRed)
		} else if strings.HasPrefix(trimmedLine, "+") {
			builder.WriteString(cGreen)
		}
		builder.WriteString("    " + line)
		builder.WriteString(cNone)
		builder.WriteString("\n")
	}
	return builder.String()
}

func writeJSONReport(results []*SampleResult) SuiteResults {
	resultsMap := make(SuiteResults, len(results))
	for _, r := range results {
		resultsMap[r.Sample] = r
	}

	jsonData, err := json.MarshalIndent(resultsMap, "", "  ")
	if err != nil {
		log.Printf("%s[ERROR]%s Failed to marshal results to JSON: %v\n", cRed, cNone, err)
		return resultsMap
	}
	if err := os.WriteFile(*outputJSON, jsonData, 0644); err != nil {
		log.Printf("%s[ERROR]%s Failed to write JSON report to %s: %v\n", cRed, cNone, *outputJSON, err)
	} else {
		fmt.Printf("Full test report saved to %s\n", *outputJSON)
	}
	return resultsMap
}

func hasFailures(results SuiteResults) bool {
	for _, result := range results {
		if result.Status == "FAIL" || result.Status == "ERROR" {
			return true
		}
	}
	return false
}
