// Package catalog содержит встроенные workflow'ы подписок.
//
// Структура:
//   - catalog.go      — сборка реестра из workflow'ов каталога
//   - subscription.go — workflow'ы create / modify / terminate / validate
//   - provisioner.go  — клиент внешней provisioning-системы
//
// Каталог — единственное место, где объявляются шаги с бизнес-логикой;
// движок исполняет любой workflow из реестра, не зная его семантики.
package catalog
