package services

//go:generate mockgen -destination=./mocks/notifier.go -package=mocks github.com/justbri/shelfmark/services Notifier
