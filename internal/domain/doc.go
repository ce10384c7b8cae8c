// Package domain contains core domain types for the agent console.
package domain
