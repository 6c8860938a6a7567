package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hospital/labflow/internal/domain/lab"
)

// refFlags are the patient and test identifiers shared by the lab commands.
type refFlags struct {
	patient lab.PatientRef
	test    lab.TestRef
	status  string
}

func (f *refFlags) bindPatient(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.patient.PatientID, "patient-id", "", "Registered patient id")
	cmd.Flags().StringVar(&f.patient.PID, "pid", "", "Walk-in patient id as printed on the slip")
	cmd.Flags().IntVar(&f.patient.WalkInID, "walkin-id", 0, "Walk-in id")
	cmd.Flags().IntVar(&f.patient.TimelineID, "timeline-id", 0, "Patient timeline id")
	cmd.Flags().StringVar(&f.patient.LoincCode, "loinc", "", "LOINC code of the walk-in test")
}

func (f *refFlags) bindTest(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.test.TestID, "test-id", "", "Test id")
	cmd.Flags().StringVar(&f.test.LoincCode, "test-loinc", "", "Test LOINC code")
	cmd.Flags().StringVar(&f.status, "status", "", "Current test status (pending, processing, completed)")
}

func (f *refFlags) testRef() lab.TestRef {
	t := f.test
	if s, ok := lab.ParseStatus(f.status); ok {
		t.Status = s
	}
	return t
}

// cliSession is the configured service and the caller the CLI acts as.
type cliSession struct {
	svc    *lab.Service
	caller lab.Caller
	logger zerolog.Logger
	close  func()
}

func newSession() (*cliSession, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateCaller(); err != nil {
		return nil, err
	}
	logger, closeLog := newLogger(cfg)
	return &cliSession{
		svc: newService(cfg, logger, nil),
		caller: lab.Caller{
			Role:       cfg.LabRole,
			HospitalID: cfg.LabHospitalID,
			UserID:     cfg.LabUserID,
			Token:      cfg.BackendToken,
		},
		logger: logger,
		close:  closeLog,
	}, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func testsCmd() *cobra.Command {
	var f refFlags
	cmd := &cobra.Command{
		Use:   "tests",
		Short: "List a patient's active and completed tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close()
			return printJSON(cmd.OutOrStdout(), s.svc.TestView(cmd.Context(), s.caller, f.patient))
		},
	}
	f.bindPatient(cmd)
	return cmd
}

func reportsCmd() *cobra.Command {
	var f refFlags
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List completed tests with their report attachments",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close()
			return printJSON(cmd.OutOrStdout(), s.svc.Reports(cmd.Context(), s.caller, f.patient, nil))
		},
	}
	f.bindPatient(cmd)
	return cmd
}

func startCmd() *cobra.Command {
	var f refFlags
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Move a pending test to processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close()

			o, err := s.svc.StartProcessing(cmd.Context(), s.caller, f.patient, f.testRef())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", o.Key(), o.Status())
			return nil
		},
	}
	f.bindPatient(cmd)
	f.bindTest(cmd)
	return cmd
}

func uploadCmd() *cobra.Command {
	var f refFlags
	var paths []string
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload report files for a processing test and complete it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(paths) == 0 {
				return lab.ErrNoFiles
			}
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close()

			files := make([]lab.FileSource, 0, len(paths))
			for _, p := range paths {
				files = append(files, localFile(p))
			}
			test := f.testRef()
			if test.Status == "" {
				test.Status = lab.StatusProcessing
			}

			res, err := s.svc.Upload(cmd.Context(), s.caller, f.patient, test, files)
			if res != nil {
				for _, ff := range res.Failed {
					s.logger.Warn().Str("file", ff.File).Msg(ff.Error)
				}
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	f.bindPatient(cmd)
	f.bindTest(cmd)
	cmd.Flags().StringArrayVar(&paths, "file", nil, "Report file to upload (repeatable)")
	return cmd
}

// localFile is a report on disk. Its size is read on every poll so a file
// still being written by a scanner reports zero until it is flushed.
type localFile string

func (f localFile) Name() string { return filepath.Base(string(f)) }

func (f localFile) ContentType() string {
	if ct := mime.TypeByExtension(filepath.Ext(string(f))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (f localFile) Size(context.Context) (int64, error) {
	st, err := os.Stat(string(f))
	if err != nil {
		return 0, err
	}
	if st.IsDir() {
		return 0, fmt.Errorf("%s is a directory", f)
	}
	return st.Size(), nil
}

func (f localFile) Open() (io.ReadCloser, error) { return os.Open(string(f)) }
