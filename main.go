package main

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	mpb "github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
	"github.com/xhhuango/json"

	"github.com/stochvol/hestonfit/calibration"
	"github.com/stochvol/hestonfit/models"
	"github.com/stochvol/hestonfit/surface"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment defaults")
	}

	cfg := calibration.DefaultConfig()
	if v := os.Getenv("HESTONFIT_NODES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("Bad HESTONFIT_NODES %q: %v", v, err)
		}
		cfg.Quadrature.NodeCount = n
	}
	if v := os.Getenv("HESTONFIT_GENERATIONS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			log.Fatalf("Bad HESTONFIT_GENERATIONS %q: %v", v, err)
		}
		cfg.DE.MaxGenerations = uint(n)
	}
	if v := os.Getenv("HESTONFIT_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			log.Fatalf("Bad HESTONFIT_SEED %q: %v", v, err)
		}
		cfg.DE.Seed = n
	}

	var surf *surface.Surface
	if path := os.Getenv("SURFACE_CSV"); path != "" {
		var err error
		surf, err = loadSurfaceCSV(path)
		if err != nil {
			log.Fatalf("Loading surface from %s: %v", path, err)
		}
		fmt.Printf("Loaded %d quotes from %s\n", surf.Len(), path)
	} else {
		surf = syntheticSurface()
		fmt.Printf("No SURFACE_CSV set; calibrating against a synthetic surface of %d quotes\n", surf.Len())
	}

	// Progress bar over objective evaluations
	progress := mpb.New(mpb.WithWidth(64))
	estimated := int64(cfg.DE.PopulationSize) * int64(cfg.DE.MaxGenerations+1)
	bar := progress.AddBar(estimated,
		mpb.PrependDecorators(
			decor.Name("Calibrating"),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.CountersNoUnit("(%d / %d evals)", decor.WCSyncSpace),
		),
	)
	// The refinement stage adds an unknown number of evaluations beyond the
	// DE estimate; increments past the total are dropped by mpb.
	cfg.OnEvaluation = func() {
		bar.Increment()
	}

	result, err := calibration.Calibrate(surf, cfg)
	bar.SetTotal(bar.Current(), true)
	progress.Wait()
	if err != nil {
		log.Fatalf("Calibration failed: %v", err)
	}

	fmt.Printf("\nFitted parameters: kappa=%.4f theta=%.4f sigma=%.4f rho=%.4f v0=%.4f\n",
		result.Params.Kappa, result.Params.Theta, result.Params.Sigma, result.Params.Rho, result.Params.V0)
	fmt.Printf("Objective: %.6e\n", result.Objective)
	fmt.Printf("Price RMSE: %.6f  IV RMSE: %.6f\n", result.PriceRMSE(), result.IVRMSE())
	fmt.Printf("Feller condition satisfied: %t\n", result.FellerSatisfied)
	if result.PartialConvergence {
		fmt.Println("Warning: partial convergence, best-found parameters reported")
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("Marshaling result: %v", err)
	}
	outPath := os.Getenv("RESULT_JSON")
	if outPath == "" {
		outPath = "calibration_result.json"
	}
	if err := os.WriteFile(outPath, out, 0644); err != nil {
		log.Fatalf("Writing %s: %v", outPath, err)
	}
	fmt.Printf("Wrote full result to %s\n", outPath)
}

// loadSurfaceCSV reads the long-format quote table. Parsing stops at the
// csv layer; all validation happens in surface.FromRecords.
func loadSurfaceCSV(path string) (*surface.Surface, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty csv file")
	}
	return surface.FromRecords(records[0], records[1:])
}

// syntheticSurface prices a strike/maturity grid under a known parameter
// set, for demo runs without market data. The calibrator should recover the
// generating parameters.
func syntheticSurface() *surface.Surface {
	params := models.NewHestonParameters(2.0, 0.04, 0.3, -0.7, 0.04)
	pricer, err := models.NewHestonPricer(models.DefaultNodeCount, models.DefaultDamping)
	if err != nil {
		log.Fatalf("Building pricer: %v", err)
	}

	const (
		spot  = 100.0
		rate  = 0.02
		carry = 0.0
	)
	surf := surface.NewSurface()
	for _, maturity := range []float64{0.25, 0.5, 1.0} {
		for strike := 80.0; strike <= 120.0; strike += 5.0 {
			typ := surface.OTMType(spot, strike, maturity, rate, carry)
			price, err := pricer.Price(params, spot, strike, maturity, rate, carry, typ)
			if err != nil {
				log.Fatalf("Pricing synthetic quote: %v", err)
			}
			spread := 0.02 * price
			err = surf.Add(surface.MarketQuote{
				Maturity: maturity,
				Strike:   strike,
				Spot:     spot,
				Rate:     rate,
				Carry:    carry,
				Bid:      price - spread/2,
				Ask:      price + spread/2,
				Type:     typ,
			})
			if err != nil {
				log.Fatalf("Adding synthetic quote: %v", err)
			}
		}
	}
	return surf
}
