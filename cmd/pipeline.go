package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/audiolibrelab/pcmcapture/internal/play"
	"github.com/audiolibrelab/pcmcapture/internal/service"
)

// executePipeline runs the steps after startStep on a finished recording.
func executePipeline(ctx context.Context, svc service.Service, name string, startStep rune) error {
	if pipeline == "" {
		return nil
	}

	steps := []rune(strings.ToLower(pipeline))

	// Find the starting position in the pipeline
	startIndex := -1
	for i, step := range steps {
		if step == startStep {
			startIndex = i
			break
		}
	}
	if startIndex == -1 {
		return fmt.Errorf("step '%c' not found in pipeline '%s'", startStep, pipeline)
	}

	for _, step := range steps[startIndex+1:] {
		if err := runStep(ctx, svc, name, step); err != nil {
			return err
		}
	}
	return nil
}

// runStep runs one post-recording pipeline step.
func runStep(ctx context.Context, svc service.Service, name string, step rune) error {
	fmt.Printf("Pipeline: executing step '%c'...\n", step)

	info, err := svc.GetRecordingInfo(name)
	if err != nil {
		return err
	}

	switch step {
	case 'i':
		a, err := svc.Inspect(info.WAVPath)
		if err != nil {
			return fmt.Errorf("pipeline inspect failed: %w", err)
		}
		printAnalysis(a)

	case 'p':
		if err := play.New().Play(ctx, info.WAVPath); err != nil {
			return fmt.Errorf("pipeline play failed: %w", err)
		}
		fmt.Println("Pipeline: playback completed")

	default:
		return fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, i=inspect, p=play)", step)
	}
	return nil
}

func validatePipeline() error {
	if pipeline == "" {
		return nil
	}

	pipeline = strings.ToLower(pipeline)
	validSteps := map[rune]bool{
		'r': true, // record
		'i': true, // inspect
		'p': true, // play
	}

	for i, step := range pipeline {
		if !validSteps[step] {
			return fmt.Errorf("invalid pipeline step: '%c' (valid: r=record, i=inspect, p=play)", step)
		}
		if step == 'r' && i != 0 {
			return fmt.Errorf("record must be the first pipeline step")
		}
	}

	return nil
}
