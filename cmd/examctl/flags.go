package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"examgate/pkg/domain"
)

// mustGetString gets a string flag value or panics if the flag doesn't exist.
// Flags are defined in init(), so an error here is a programming bug.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

func mustGetFloat64(cmd *cobra.Command, name string) float64 {
	val, err := cmd.Flags().GetFloat64(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

func mustGetInt64(cmd *cobra.Command, name string) int64 {
	val, err := cmd.Flags().GetInt64(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

type subjectCreds struct {
	email    string
	password string
	subject  domain.SubjectID
}

func addSubjectFlags(cmd *cobra.Command) {
	cmd.Flags().String("email", "", "Subject email")
	cmd.Flags().String("password", "", "Subject password (defaults to EXAMCTL_PASSWORD)")
	cmd.Flags().Int64("subject", 0, "Subject id from an earlier registration of this email")
	_ = cmd.MarkFlagRequired("email")
}

func subjectFlags(cmd *cobra.Command) subjectCreds {
	creds := subjectCreds{
		email:    mustGetString(cmd, "email"),
		password: mustGetString(cmd, "password"),
		subject:  domain.SubjectID(mustGetInt64(cmd, "subject")),
	}
	if creds.password == "" {
		creds.password = os.Getenv("EXAMCTL_PASSWORD")
	}
	return creds
}
