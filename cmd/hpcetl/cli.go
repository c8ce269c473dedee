// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import "flag"

var (
	flagWatch                                                      bool
	flagConfigFile, flagFile, flagFolder, flagSourceDir, flagSource string
	flagLogLevel, flagLogFile                                      string
)

func cliInit() {
	flag.StringVar(&flagConfigFile, "config", "", "Path to the pipeline `config.json` (required)")
	flag.StringVar(&flagFile, "file", "", "Process a single source `file` and exit (single-file mode, §4.9)")
	flag.StringVar(&flagFolder, "folder", "", "Process a single already-materialized `folder` and exit (directory mode, §4.9)")
	flag.BoolVar(&flagWatch, "watch", false, "Watch -source-dir for new files and process each as it stabilizes (watch mode, §4.9)")
	flag.StringVar(&flagSourceDir, "source-dir", "", "Directory to watch when -watch is set")
	flag.StringVar(&flagSource, "source", "", "Override the configured source.base_path/base_url for this run")
	flag.StringVar(&flagLogLevel, "log-level", "INFO", "Sets the logging level: `[DEBUG, INFO, WARNING, ERROR]`")
	flag.StringVar(&flagLogFile, "log-file", "", "Write logs to `file` instead of stderr")
	flag.Parse()
}
