package main

// Provider blank imports: each import activates a self-registering adapter.

import (
	_ "github.com/Strob0t/feedbacksync/internal/adapter/githubissues"
)
