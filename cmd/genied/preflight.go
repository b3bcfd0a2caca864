package main

import (
	"fmt"
	"os"

	"genied/internal/common/fsutil"
	"genied/internal/config"
)

// preflight lists problems that would keep the engine from starting. The
// engine still runs without them; it degrades and reports the same failure.
func preflight(cfg config.Config) []string {
	var problems []string
	if fi, err := os.Stat(cfg.WorkDir); err != nil || !fi.IsDir() {
		return []string{fmt.Sprintf("work dir %s is not a directory", cfg.WorkDir)}
	}
	for _, bin := range []string{cfg.PersistentBinary, cfg.OneShotBinary} {
		p, err := fsutil.ResolveIn(cfg.WorkDir, bin)
		if err == nil {
			err = fsutil.CheckExecutable(p)
		}
		if err != nil {
			problems = append(problems, err.Error())
		}
	}
	p, err := fsutil.ResolveIn(cfg.WorkDir, cfg.GenieConfig)
	if err == nil {
		_, err = os.Stat(p)
	}
	if err != nil {
		problems = append(problems, fmt.Sprintf("genie config: %v", err))
	}
	return problems
}
