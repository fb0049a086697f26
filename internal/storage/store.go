// Package storage persists benchmark runs: a JSON metadata file per run
// plus a CSV of the accumulated per-category device timings.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/san-kum/nbgpu/internal/bench"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID              string    `json:"id"`
	Preset          string    `json:"preset"`
	Timestamp       time.Time `json:"timestamp"`
	Device          string    `json:"device"`
	Atoms           int       `json:"atoms"`
	Steps           int       `json:"steps"`
	WallSeconds     float64   `json:"wall_seconds"`
	TimingsOK       bool      `json:"timings_ok"`
	EnergyLJ        float64   `json:"energy_lj"`
	EnergyEl        float64   `json:"energy_el"`
	MinCIBalanced   int       `json:"min_ci_balanced"`
	EwaldAnalytical bool      `json:"ewald_analytical"`
}

// Save writes one benchmark result under a fresh run directory and returns
// the run id.
func (s *Store) Save(res *bench.Result) (string, error) {
	runID := fmt.Sprintf("%s_%d", res.Name, time.Now().Unix())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:              runID,
		Preset:          res.Name,
		Timestamp:       time.Now(),
		Device:          res.Device,
		Atoms:           res.Atoms,
		Steps:           res.Steps,
		WallSeconds:     res.Wall.Seconds(),
		TimingsOK:       res.TimingsOK,
		EnergyLJ:        float64(res.EnergyLJ),
		EnergyEl:        float64(res.EnergyEl),
		MinCIBalanced:   res.MinCIBalanced,
		EwaldAnalytical: res.EwaldAnalytical,
	}

	metaPath := filepath.Join(runDir, "metadata.json")
	metaFile, err := os.Create(metaPath)
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	if !res.TimingsOK {
		return runID, nil
	}

	csvPath := filepath.Join(runDir, "timings.csv")
	csvFile, err := os.Create(csvPath)
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	defer w.Flush()

	if err := w.Write([]string{"category", "count", "total_ms"}); err != nil {
		return "", err
	}

	snap := res.Timings
	rows := []struct {
		category string
		count    int
		ms       float64
	}{
		{"nb_h2d", snap.NbCount, snap.NbH2D.Seconds() * 1e3},
		{"nb_d2h", snap.NbCount, snap.NbD2H.Seconds() * 1e3},
		{"pairlist_h2d", snap.PairlistCount, snap.PairlistH2D.Seconds() * 1e3},
		{"kernel_f", snap.Kernel[0][0].C, snap.Kernel[0][0].T.Seconds() * 1e3},
		{"kernel_f_prune", snap.Kernel[0][1].C, snap.Kernel[0][1].T.Seconds() * 1e3},
		{"kernel_vf", snap.Kernel[1][0].C, snap.Kernel[1][0].T.Seconds() * 1e3},
		{"kernel_vf_prune", snap.Kernel[1][1].C, snap.Kernel[1][1].T.Seconds() * 1e3},
	}
	for _, row := range rows {
		rec := []string{
			row.category,
			strconv.Itoa(row.count),
			strconv.FormatFloat(row.ms, 'f', 4, 64),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}

	return runID, nil
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		metaPath := filepath.Join(s.baseDir, entry.Name(), "metadata.json")
		data, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}

		var meta RunMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}

		runs = append(runs, meta)
	}

	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	metaPath := filepath.Join(s.baseDir, runID, "metadata.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// TimingRow is one parsed line of a run's timings.csv.
type TimingRow struct {
	Category string
	Count    int
	TotalMs  float64
}

func (s *Store) LoadTimings(runID string) ([]TimingRow, error) {
	csvPath := filepath.Join(s.baseDir, runID, "timings.csv")
	file, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []TimingRow{}, nil
	}

	rows := make([]TimingRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != 3 {
			continue
		}
		count, err := strconv.Atoi(rec[1])
		if err != nil {
			continue
		}
		ms, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			continue
		}
		rows = append(rows, TimingRow{Category: rec[0], Count: count, TotalMs: ms})
	}
	return rows, nil
}
